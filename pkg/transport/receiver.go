package transport

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arbiterhq/arbiter/pkg/model"
	"github.com/arbiterhq/arbiter/pkg/store"
	"github.com/arbiterhq/arbiter/pkg/utils/logging"
)

// NewRouter builds the receiving endpoint of the sync transport: it
// accepts full record deliveries and serves listing and existence probes
// over the local store. Partial deliveries never become visible because
// the store's put is atomic.
func NewRouter(st *store.Store) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", func(c *gin.Context) {
		entries := st.List(c.Request.Context(), store.ListOptions{})
		c.JSON(http.StatusOK, gin.H{
			"status":        "running",
			"service":       "arbiter-receiver",
			"total_records": len(entries),
		})
	})

	r.GET("/arguments", func(c *gin.Context) {
		entries := st.List(c.Request.Context(), store.ListOptions{})
		c.JSON(http.StatusOK, gin.H{"arguments": entries})
	})

	r.GET("/arguments/:id", func(c *gin.Context) {
		rec, err := st.Get(c.Request.Context(), model.RecordID(c.Param("id")))
		if err != nil {
			if errors.Is(err, model.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	r.POST("/receive_results", func(c *gin.Context) {
		receiveResults(c, st)
	})

	return r
}

func receiveResults(c *gin.Context, st *store.Store) {
	ctx := c.Request.Context()

	metadata, err := readFormFile(c, "metadata")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"acked": false, "error": "missing metadata part"})
		return
	}
	transcript, err := readFormFile(c, "transcript")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"acked": false, "error": "missing transcript part"})
		return
	}
	audio, err := readFormFile(c, "audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"acked": false, "error": "missing audio part"})
		return
	}

	var rec model.Record
	if err := json.Unmarshal(metadata, &rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"acked": false, "error": "metadata is not a valid record"})
		return
	}
	rec.TranscriptText = string(transcript)

	if id := c.PostForm("argument_id"); id != "" && id != rec.ID.String() {
		c.JSON(http.StatusBadRequest, gin.H{"acked": false, "error": "argument_id does not match metadata"})
		return
	}

	if err := st.Put(ctx, &rec, audio); err != nil {
		if errors.Is(err, model.ErrDuplicateRecord) {
			// Already delivered; re-delivery must look like success.
			logging.From(ctx).Info("duplicate delivery acknowledged", "id", rec.ID)
			c.JSON(http.StatusOK, gin.H{"acked": true, "duplicate": true, "argument_id": rec.ID})
			return
		}
		logging.From(ctx).Error("failed to store delivered record", "id", rec.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"acked": false, "error": err.Error()})
		return
	}

	logging.From(ctx).Info("record received", "id", rec.ID, "speakers", len(rec.Speakers))
	c.JSON(http.StatusOK, gin.H{"acked": true, "duplicate": false, "argument_id": rec.ID})
}

func readFormFile(c *gin.Context, name string) ([]byte, error) {
	header, err := c.FormFile(name)
	if err != nil {
		return nil, err
	}
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer func(f multipart.File) { _ = f.Close() }(f)
	return io.ReadAll(f)
}

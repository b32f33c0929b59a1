package cli

import (
	"context"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/arbiterhq/arbiter/pkg/adapter"
	"github.com/arbiterhq/arbiter/pkg/knowledge"
	"github.com/arbiterhq/arbiter/pkg/store"
	"github.com/arbiterhq/arbiter/pkg/transport"
	"github.com/arbiterhq/arbiter/pkg/utils/logging"
	"github.com/arbiterhq/arbiter/pkg/verdict"
)

const (
	defaultConfigPath = "arbiter.yml"

	defaultGenerativeModel = "gemini-2.5-flash"
	defaultEmbeddingModel  = "gemini-embedding-001"
)

// config holds configuration values shared across commands.
type config struct {
	// Node
	storeDir   string
	logLevel   string
	configPath string

	// Gemini
	geminiProject   string
	geminiLocation  string
	generativeModel string
	embeddingModel  string
	knowledgePath   string

	// Speech
	language    string
	maxSpeakers int64

	// Sync
	remoteURL   string
	sendTimeout time.Duration
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "store-dir",
			Aliases:     []string{"s"},
			Usage:       "Base directory of the argument store",
			Value:       "arguments_db",
			Sources:     cli.EnvVars("ARBITER_STORE_DIR"),
			Destination: &cfg.storeDir,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("ARBITER_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to YAML config file with node defaults",
			Sources:     cli.EnvVars("ARBITER_CONFIG"),
			Destination: &cfg.configPath,
		},
	}
}

// geminiFlags returns flags for LLM-related configuration with destination config
func geminiFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "generative-model",
			Usage:       "Model used for verdict and title generation",
			Sources:     cli.EnvVars("ARBITER_GENERATIVE_MODEL"),
			Destination: &cfg.generativeModel,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Model used for knowledge base embeddings",
			Sources:     cli.EnvVars("ARBITER_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.StringFlag{
			Name:        "knowledge-base",
			Usage:       "Path to a facts JSON file for verdict grounding",
			Sources:     cli.EnvVars("ARBITER_KNOWLEDGE_BASE"),
			Destination: &cfg.knowledgePath,
		},
	}
}

// speechFlags returns flags for the diarization/transcription backend
func speechFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "language",
			Usage:       "Recognition language code",
			Value:       "en-US",
			Sources:     cli.EnvVars("ARBITER_LANGUAGE"),
			Destination: &cfg.language,
		},
		&cli.IntFlag{
			Name:        "max-speakers",
			Usage:       "Maximum speaker count for diarization",
			Value:       2,
			Sources:     cli.EnvVars("ARBITER_MAX_SPEAKERS"),
			Destination: &cfg.maxSpeakers,
		},
	}
}

// syncFlags returns flags for replication to the archive device
func syncFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "remote",
			Aliases:     []string{"r"},
			Usage:       "Base URL of the archive device receiver",
			Sources:     cli.EnvVars("ARBITER_REMOTE_URL"),
			Destination: &cfg.remoteURL,
		},
		&cli.DurationFlag{
			Name:        "send-timeout",
			Usage:       "Timeout per delivery attempt",
			Value:       15 * time.Second,
			Sources:     cli.EnvVars("ARBITER_SEND_TIMEOUT"),
			Destination: &cfg.sendTimeout,
		},
	}
}

type fileConfig struct {
	StoreDir string `yaml:"store_dir"`
	LogLevel string `yaml:"log_level"`
	Remote   struct {
		URL string `yaml:"url"`
	} `yaml:"remote"`
	Gemini struct {
		Project         string `yaml:"project"`
		Location        string `yaml:"location"`
		GenerativeModel string `yaml:"generative_model"`
		EmbeddingModel  string `yaml:"embedding_model"`
		KnowledgeBase   string `yaml:"knowledge_base"`
	} `yaml:"gemini"`
	Speech struct {
		Language    string `yaml:"language"`
		MaxSpeakers int64  `yaml:"max_speakers"`
	} `yaml:"speech"`
}

// setup applies the optional config file, builds the logger, and attaches
// it to the context. Every command action calls this first.
func (cfg *config) setup(ctx context.Context) (context.Context, error) {
	if err := cfg.applyFile(); err != nil {
		return ctx, err
	}

	logger := logging.New(cfg.logLevel, os.Stderr)
	logging.SetDefault(logger)
	return logging.With(ctx, logger), nil
}

// applyFile fills unset fields from the YAML config file. Flags and env
// vars win over the file.
func (cfg *config) applyFile() error {
	path := cfg.configPath
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err != nil {
			return nil
		}
		path = defaultConfigPath
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return goerr.Wrap(err, "failed to read config file", goerr.Value("path", path))
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return goerr.Wrap(err, "failed to parse config file", goerr.Value("path", path))
	}

	setIfEmpty(&cfg.storeDir, fc.StoreDir)
	setIfEmpty(&cfg.logLevel, fc.LogLevel)
	setIfEmpty(&cfg.remoteURL, fc.Remote.URL)
	setIfEmpty(&cfg.geminiProject, fc.Gemini.Project)
	setIfEmpty(&cfg.geminiLocation, fc.Gemini.Location)
	setIfEmpty(&cfg.generativeModel, fc.Gemini.GenerativeModel)
	setIfEmpty(&cfg.embeddingModel, fc.Gemini.EmbeddingModel)
	setIfEmpty(&cfg.knowledgePath, fc.Gemini.KnowledgeBase)
	setIfEmpty(&cfg.language, fc.Speech.Language)
	if cfg.maxSpeakers == 0 {
		cfg.maxSpeakers = fc.Speech.MaxSpeakers
	}

	return nil
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// newStore opens the local argument store.
func (cfg *config) newStore(ctx context.Context) (*store.Store, error) {
	if cfg.storeDir == "" {
		return nil, goerr.New("store-dir is required")
	}
	st, err := store.Open(ctx, cfg.storeDir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open argument store")
	}
	return st, nil
}

// newGemini creates a new Gemini adapter instance.
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}

	generative := cfg.generativeModel
	if generative == "" {
		generative = defaultGenerativeModel
	}
	embedding := cfg.embeddingModel
	if embedding == "" {
		embedding = defaultEmbeddingModel
	}
	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation,
		adapter.WithGenerativeModel(generative),
		adapter.WithEmbeddingModel(embedding),
	)
}

// newResolver builds the verdict collaborator, with knowledge base
// grounding when a facts file is configured.
func (cfg *config) newResolver(ctx context.Context, gemini adapter.Gemini) (*verdict.Resolver, error) {
	var opts []verdict.ResolverOption
	if cfg.knowledgePath != "" {
		kb, err := knowledge.Load(gemini, cfg.knowledgePath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, verdict.WithKnowledgeBase(kb))
	}
	return verdict.NewResolver(gemini, opts...), nil
}

// newSpeech creates the diarization/transcription adapter.
func (cfg *config) newSpeech(ctx context.Context) (*adapter.SpeechClient, error) {
	return adapter.NewSpeech(ctx,
		adapter.WithLanguage(cfg.language),
		adapter.WithSpeakerRange(1, int(cfg.maxSpeakers)),
	)
}

// newSender creates the sync transport sender.
func (cfg *config) newSender() (*transport.Sender, error) {
	if cfg.remoteURL == "" {
		return nil, goerr.New("remote is required")
	}
	return transport.NewSender(cfg.remoteURL, transport.WithTimeout(cfg.sendTimeout)), nil
}

package model

import (
	"fmt"
	"sort"
	"strings"
)

type timedLine struct {
	offset  float64
	speaker string
	text    string
}

// RenderTranscript produces the full conversation text from per-speaker
// utterances, one line per utterance with its start offset, merged across
// speakers in chronological order. It is generated once at persistence
// time and stored with the record.
func RenderTranscript(speakers map[string]*Speaker) string {
	var lines []timedLine
	for label, sp := range speakers {
		for _, u := range sp.Utterances {
			lines = append(lines, timedLine{offset: u.StartOffset, speaker: label, text: u.Text})
		}
	}

	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].offset != lines[j].offset {
			return lines[i].offset < lines[j].offset
		}
		return lines[i].speaker < lines[j].speaker
	})

	var sb strings.Builder
	for _, ln := range lines {
		fmt.Fprintf(&sb, "[%6.1fs] %s: %s\n", ln.offset, ln.speaker, ln.text)
	}
	return sb.String()
}

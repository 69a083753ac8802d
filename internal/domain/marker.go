package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// markerVersion is bumped whenever the marker schema changes shape.
const markerVersion = 1

// ReviewMarker is the continuation payload embedded in a review body. It is
// the only correlation between a submission and its eventual merge webhook,
// and the review body is externally editable, so it is treated as untrusted
// input and validated on parse.
type ReviewMarker struct {
	Version    int        `json:"version"`
	ConfigPath ConfigPath `json:"configPath"`
	Fields     Fields     `json:"fields"`
	Options    Options    `json:"options"`
	Parameters Parameters `json:"parameters"`
}

var markerPattern = regexp.MustCompile(`<!--comment-bot_notification:(.+?)-->`)

// Encode renders the marker as the delimiter comment embedded in review
// bodies. Encoding a marker we just built cannot fail.
func (m ReviewMarker) Encode() string {
	m.Version = markerVersion
	payload, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("<!--comment-bot_notification:%s-->", payload)
}

// ExtractMarker pattern-matches a marker out of arbitrary review-body text.
// Returns (nil, nil) when no marker is present.
func ExtractMarker(body string) (*ReviewMarker, error) {
	match := markerPattern.FindStringSubmatch(body)
	if match == nil {
		return nil, nil
	}

	var marker ReviewMarker
	if err := json.Unmarshal([]byte(match[1]), &marker); err != nil {
		return nil, fmt.Errorf("malformed review marker: %w", err)
	}

	if marker.Version != markerVersion {
		return nil, fmt.Errorf("unsupported review marker version %d", marker.Version)
	}
	if marker.Parameters.Username == "" || marker.Parameters.Repository == "" {
		return nil, fmt.Errorf("review marker is missing target parameters")
	}

	return &marker, nil
}

package firestore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// pageToken is the cursor shared by the list queries in this package. All
// listings order by createdAt descending with the document ID as tiebreaker.
type pageToken struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

func encodePageToken(token pageToken) (string, error) {
	data, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("encode page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodePageToken(encoded string) (*pageToken, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode page token: %w", err)
	}
	var token pageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode page token json: %w", err)
	}
	return &token, nil
}

func clampPageSize(size int) int {
	if size <= 0 {
		return 50
	}
	if size > 200 {
		return 200
	}
	return size
}

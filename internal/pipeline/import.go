package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kalambet/bella/internal/history"
	"github.com/kalambet/bella/internal/profile"
	"github.com/kalambet/bella/internal/storage"
)

// ErrInvalidImport is returned when an imported document is neither a
// profile nor a history.
var ErrInvalidImport = errors.New("invalid import document")

// Import replaces the profile or the history with the document in data and
// reports which one it was. A profile must carry a "name" that is a string or
// null; a history must carry a "conversations" array.
func (e *Engine) Import(ctx context.Context, data []byte) (string, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidImport, err)
	}

	e.turnMu.Lock()
	defer e.turnMu.Unlock()

	if raw, ok := probe["conversations"]; ok {
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil || arr == nil {
			return "", fmt.Errorf("%w: conversations must be an array", ErrInvalidImport)
		}
		h, err := history.Decode(data)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidImport, err)
		}
		if err := e.history.Replace(ctx, h); err != nil {
			return storage.KeyHistory, err
		}
		e.metrics.HistorySize(e.history.Len())
		return storage.KeyHistory, nil
	}

	if raw, ok := probe["name"]; ok {
		var name *string
		if err := json.Unmarshal(raw, &name); err != nil {
			return "", fmt.Errorf("%w: name must be a string or null", ErrInvalidImport)
		}
		p, err := profile.Decode(data)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidImport, err)
		}
		return storage.KeyProfile, e.profile.Replace(ctx, p)
	}

	return "", fmt.Errorf("%w: expected a profile or a conversation history", ErrInvalidImport)
}

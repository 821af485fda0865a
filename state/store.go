// Package state is the cross-phase state store: the file-backed channel
// through which one execution unit hands its outcome to units that run later,
// possibly in a different process.
//
// A record is written once per run by exactly one unit and read, never
// modified, by every downstream unit. A missing file means "no outcome yet"
// and gates like a failure.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/initializ/dockflow/internal/fsutil"
	"github.com/initializ/dockflow/validate"
)

// ErrAbsent reports that no record has been written at a location.
var ErrAbsent = fmt.Errorf("outcome record absent: %w", fs.ErrNotExist)

// OutcomeRecord is the persisted result of a test or build unit.
type OutcomeRecord struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"` // epoch millis

	ProducedArtifactName string   `json:"producedArtifactName,omitempty"`
	ProducedTags         []string `json:"producedTags,omitempty"`
}

// NewRecord returns a record stamped with the current time.
func NewRecord(success bool, message string) OutcomeRecord {
	return OutcomeRecord{Success: success, Message: message, Timestamp: time.Now().UnixMilli()}
}

// Time returns the record timestamp.
func (r OutcomeRecord) Time() time.Time { return time.UnixMilli(r.Timestamp) }

// ParseError reports a record file that exists but cannot be trusted.
type ParseError struct {
	Path       string
	Violations []string
	Err        error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parsing outcome record %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("parsing outcome record %s: %s", e.Path, strings.Join(e.Violations, "; "))
}

func (e *ParseError) Unwrap() error { return e.Err }

// Write serializes record to path, creating parent directories. Readers see
// either the previous content or the new record, never a partial write.
// An empty ProducedTags is stored as absent and reads back as nil.
func Write(path string, record OutcomeRecord) error {
	if len(record.ProducedTags) == 0 {
		record.ProducedTags = nil
	}
	if err := fsutil.WriteJSONAtomic(path, record); err != nil {
		return fmt.Errorf("writing outcome record: %w", err)
	}
	return nil
}

// Read loads the record at path. A missing file yields ErrAbsent; content
// that is not a valid record yields *ParseError.
func Read(path string) (OutcomeRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return OutcomeRecord{}, ErrAbsent
		}
		return OutcomeRecord{}, fmt.Errorf("reading outcome record %s: %w", path, err)
	}

	violations, err := validate.ValidateOutcomeRecord(data)
	if err != nil {
		return OutcomeRecord{}, &ParseError{Path: path, Err: err}
	}
	if len(violations) > 0 {
		return OutcomeRecord{}, &ParseError{Path: path, Violations: violations}
	}

	var record OutcomeRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return OutcomeRecord{}, &ParseError{Path: path, Err: err}
	}
	return record, nil
}

// IsSuccessful reports whether the record at path exists, parses, and says
// success. Anything ambiguous is false.
func IsSuccessful(path string) bool {
	record, err := Read(path)
	return err == nil && record.Success
}

package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// User is the last known profile snapshot of a session's identity.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	Role        string    `json:"role,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
}

func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// Record is the persisted credential bundle of one authenticated identity.
// SessionID and CreatedAt never change after creation.
type Record struct {
	SessionID    string    `json:"sessionId"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	User         *User     `json:"user"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.User = r.User.Clone()
	return &c
}

func (r *Record) validate() error {
	switch {
	case r.SessionID == "":
		return fmt.Errorf("%w: missing session id", ErrCorruptRecord)
	case r.AccessToken == "":
		return fmt.Errorf("%w: missing access token", ErrCorruptRecord)
	case r.CreatedAt.IsZero():
		return fmt.Errorf("%w: missing creation time", ErrCorruptRecord)
	}
	return nil
}

// NewSessionID mints a ULID: a millisecond timestamp followed by a random
// suffix, so ids sort in creation order. Ids minted by one process within
// the same millisecond are monotonic.
func NewSessionID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), ulid.DefaultEntropy())
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func encodeRecord(r *Record) ([]byte, error) {
	if r == nil || r.SessionID == "" {
		return nil, fmt.Errorf("%w: record without session id", ErrStorageFailure)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

package drivers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pulsegrid/fusion/internal/model"
)

var (
	// ErrAuth marks a terminal credential rejection: the vendor refused
	// the credentials even after a refresh. The session must not retry.
	ErrAuth = errors.New("vendor rejected credentials")

	// ErrNotSupported is returned for commands a connector category does
	// not implement.
	ErrNotSupported = errors.New("operation not supported by connector category")

	ErrUnknownCategory = errors.New("unknown connector category")
)

// Frame is one raw message off a vendor transport, before parsing.
type Frame struct {
	// Topic is the transport-level channel the frame arrived on (MQTT
	// topic, WebSocket stream name). Empty when the transport has none.
	Topic      string
	Data       []byte
	ReceivedAt time.Time
}

// Credentials is the rotating-token subtree of a connector config. The
// credential store owns it exclusively; drivers only read the access
// token and produce replacements from RefreshCredentials.
type Credentials struct {
	AccessToken    string    `json:"accessToken,omitempty"`
	RefreshToken   string    `json:"refreshToken,omitempty"`
	TokenExpiresAt time.Time `json:"tokenExpiresAt,omitempty"`
}

// Config is a decoded per-category connector configuration.
type Config interface {
	// Validate checks the non-credential fields a session needs.
	Validate() error
	// Credentials returns the rotating-token subtree, or nil when the
	// category authenticates statically.
	Credentials() *Credentials
	// SetCredentials installs a refreshed token set.
	SetCredentials(*Credentials)
	// SessionKey is the physical session identity. Categories that share
	// one upstream session across connectors (a hub account) return the
	// shared key here.
	SessionKey(connectorID uuid.UUID) string
}

// Session is a live transport to a vendor endpoint. Frames and terminal
// errors are delivered on channels so the session worker owns the loop.
type Session interface {
	Frames() <-chan Frame
	// Err delivers at most one terminal transport failure. The session
	// is dead afterwards; the worker decides whether to reconnect.
	Err() <-chan error
	Close() error
}

// ConnectorRef is the identity a driver needs from the connector row.
// Drivers never see persistence types.
type ConnectorRef struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string
}

// CreateEventRequest mirrors the vendor "create event" API shape.
type CreateEventRequest struct {
	Source      string
	Caption     string
	Description string
	Timestamp   time.Time
	CameraRefs  []string
}

type BookmarkRequest struct {
	Name        string
	Description string
	StartTime   time.Time
	DurationMs  int
	Tags        []string
}

type ThumbnailParams struct {
	Size string
	At   *time.Time
}

// CommandClient performs outbound vendor calls for one connector. Each
// call snapshots the config it was built with; token rotation requires a
// new client.
type CommandClient interface {
	SetState(ctx context.Context, externalDeviceID string, state model.ActionableState) error
	CreateEvent(ctx context.Context, req CreateEventRequest) error
	CreateBookmark(ctx context.Context, cameraExternalID string, req BookmarkRequest) error
	FetchThumbnail(ctx context.Context, cameraExternalID string, p ThumbnailParams) ([]byte, string, error)
}

// Driver is one vendor integration. Implementations self-register from
// init(); cmd/fusion blank-imports the driver packages.
type Driver interface {
	Category() model.ConnectorCategory

	// DecodeConfig validates and decodes the connector's cfg column.
	DecodeConfig(raw json.RawMessage) (Config, error)

	// Parse turns one raw frame into zero or more standardized events.
	// Pure: no I/O, deterministic for a given frame. Unknown frame
	// shapes return (nil, nil); undecodable bytes return an error.
	Parse(ref ConnectorRef, frame Frame) ([]model.StandardizedEvent, error)

	// Connect establishes the live transport and subscribes to the
	// vendor's event stream. The returned session is fully operational.
	Connect(ctx context.Context, ref ConnectorRef, cfg Config) (Session, error)

	// Commands builds an outbound client from a config snapshot.
	Commands(ref ConnectorRef, cfg Config) (CommandClient, error)

	// RefreshCredentials exchanges the refresh token for a new token
	// set. Categories without rotating tokens return ErrNotSupported.
	RefreshCredentials(ctx context.Context, cfg Config) (*Credentials, error)
}

package probe

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/nathannam/visitor-telemetry/internal/models"
	"github.com/nathannam/visitor-telemetry/internal/storage"
	"github.com/nathannam/visitor-telemetry/internal/telemetry"
)

// GeoData is a successful "geolocation" field.
type GeoData struct {
	Latitude  string  `json:"latitude"`
	Longitude string  `json:"longitude"`
	Accuracy  int     `json:"accuracy"`
	Altitude  string  `json:"altitude"`
	Speed     float64 `json:"speed"`
}

// DefaultPromptGrace is how long a visitor may leave the permission prompt
// open. The platform's own timeout only starts once permission is granted.
const DefaultPromptGrace = 15 * time.Second

// GeolocationProbe requests the device position, remembering the outcome in
// storage so a visitor who denied it once is never prompted again.
type GeolocationProbe struct {
	Platform Platform
	KV       storage.KV
	Options  PositionOptions

	// PromptGrace is added to Options.Timeout for the overall deadline.
	// Zero means DefaultPromptGrace.
	PromptGrace time.Duration
}

func (GeolocationProbe) Fields() []string { return []string{"geolocation"} }

func (p GeolocationProbe) Collect(ctx context.Context) Fields {
	return Fields{"geolocation": p.Locate(ctx)}
}

// Locate returns GeoData or one of "unsupported", "permission_denied",
// "geolocation_error_<code>".
func (p GeolocationProbe) Locate(ctx context.Context) any {
	logger := telemetry.GetLogger()

	if !p.Platform.Capabilities().Geolocation {
		return models.Unsupported
	}

	permission, _, err := p.KV.Get(ctx, storage.KeyGeoPermission)
	if err != nil {
		logger.WarnContext(ctx, "Failed to read geolocation permission", "error", err)
	}
	if permission == storage.PermissionDenied {
		return models.PermissionDenied
	}

	requestCtx := ctx
	if p.Options.Timeout > 0 {
		grace := p.PromptGrace
		if grace <= 0 {
			grace = DefaultPromptGrace
		}
		var cancel context.CancelFunc
		requestCtx, cancel = context.WithTimeout(ctx, p.Options.Timeout+grace)
		defer cancel()
	}

	pos, err := p.Platform.CurrentPosition(requestCtx, p.Options)
	if errors.Is(err, ErrUnsupported) {
		return models.Unsupported
	}
	if err != nil {
		// Only an answer from the platform is remembered. Giving up on our
		// side says nothing about the visitor's choice.
		var posErr *PositionError
		if errors.As(err, &posErr) {
			p.remember(ctx, storage.PermissionDenied)
			return models.GeolocationError(posErr.Code)
		}
		code := PositionUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			code = PositionTimeout
		}
		logger.WarnContext(ctx, "Geolocation request abandoned", "error", err)
		return models.GeolocationError(code)
	}

	p.remember(ctx, storage.PermissionGranted)
	data := GeoData{
		Latitude:  strconv.FormatFloat(pos.Latitude, 'f', 6, 64),
		Longitude: strconv.FormatFloat(pos.Longitude, 'f', 6, 64),
		Accuracy:  int(math.Round(pos.Accuracy)),
		Altitude:  models.Unavailable,
	}
	if pos.Altitude != nil {
		data.Altitude = strconv.FormatFloat(*pos.Altitude, 'f', 2, 64)
	}
	if pos.Speed != nil && !math.IsNaN(*pos.Speed) {
		data.Speed = *pos.Speed
	}
	return data
}

func (p GeolocationProbe) remember(ctx context.Context, permission string) {
	if err := p.KV.Set(ctx, storage.KeyGeoPermission, permission); err != nil {
		telemetry.GetLogger().WarnContext(ctx, "Failed to persist geolocation permission",
			"permission", permission,
			"error", err)
	}
}

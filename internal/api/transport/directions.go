package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/haru-planner/internal/types"
)

var _ Estimator = (*DirectionsEstimator)(nil)

const (
	DefaultKakaoBaseURL = "https://apis-navi.kakaomobility.com"
	DefaultTmapBaseURL  = "https://apis.openapi.sk.com"
)

// HTTPStatusError is a non-2xx answer from a routing API.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("directions: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// DirectionsEstimator asks Kakao Mobility for driving times and Tmap for
// walking and transit times.
type DirectionsEstimator struct {
	kakaoKey     string
	tmapKey      string
	kakaoBaseURL string
	tmapBaseURL  string
	httpClient   *http.Client
	logger       *slog.Logger
}

type Option func(*DirectionsEstimator)

func WithKakaoBaseURL(u string) Option {
	return func(d *DirectionsEstimator) { d.kakaoBaseURL = strings.TrimRight(strings.TrimSpace(u), "/") }
}

func WithTmapBaseURL(u string) Option {
	return func(d *DirectionsEstimator) { d.tmapBaseURL = strings.TrimRight(strings.TrimSpace(u), "/") }
}

func WithHTTPClient(c *http.Client) Option {
	return func(d *DirectionsEstimator) { d.httpClient = c }
}

func NewDirectionsEstimator(kakaoKey, tmapKey string, logger *slog.Logger, opts ...Option) *DirectionsEstimator {
	d := &DirectionsEstimator{
		kakaoKey:     kakaoKey,
		tmapKey:      tmapKey,
		kakaoBaseURL: DefaultKakaoBaseURL,
		tmapBaseURL:  DefaultTmapBaseURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		logger:       logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *DirectionsEstimator) Minutes(ctx context.Context, from, to types.Location, mode types.TransportMode) (int, error) {
	ctx, span := otel.Tracer("Transport").Start(ctx, "DirectionsMinutes", trace.WithAttributes(
		attribute.String("mode", string(mode)),
	))
	defer span.End()

	var (
		seconds int
		err     error
	)
	switch mode {
	case types.TransportDrive:
		seconds, err = d.drive(ctx, from, to)
	case types.TransportTransit:
		seconds, err = d.transit(ctx, from, to)
	case types.TransportWalk:
		seconds, err = d.walk(ctx, from, to)
	default:
		err = fmt.Errorf("%w: unknown mode %q", ErrUnavailable, mode)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Directions failed")
		d.logger.WarnContext(ctx, "Directions lookup failed", slog.String("mode", string(mode)), slog.Any("error", err))
		return 0, err
	}

	minutes := seconds / 60
	span.SetAttributes(attribute.Int("minutes", minutes))
	span.SetStatus(codes.Ok, "Directions resolved")
	return minutes, nil
}

type kakaoResponse struct {
	Routes []struct {
		ResultCode int    `json:"result_code"`
		ResultMsg  string `json:"result_msg"`
		Summary    struct {
			Duration int `json:"duration"`
			Distance int `json:"distance"`
		} `json:"summary"`
	} `json:"routes"`
}

func (d *DirectionsEstimator) drive(ctx context.Context, from, to types.Location) (int, error) {
	if d.kakaoKey == "" {
		return 0, fmt.Errorf("%w: kakao key not configured", ErrUnavailable)
	}
	q := url.Values{}
	q.Set("origin", lonLat(from))
	q.Set("destination", lonLat(to))
	endpoint := d.kakaoBaseURL + "/v1/directions?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("building kakao request: %w", err)
	}
	req.Header.Set("Authorization", "KakaoAK "+d.kakaoKey)

	var resp kakaoResponse
	if err := d.do(req, &resp); err != nil {
		return 0, err
	}
	if len(resp.Routes) == 0 {
		return 0, fmt.Errorf("%w: kakao returned no routes", ErrUnavailable)
	}
	route := resp.Routes[0]
	if route.ResultCode != 0 {
		return 0, fmt.Errorf("%w: kakao result %d: %s", ErrUnavailable, route.ResultCode, route.ResultMsg)
	}
	return route.Summary.Duration, nil
}

type tmapPoints struct {
	StartX    string `json:"startX"`
	StartY    string `json:"startY"`
	EndX      string `json:"endX"`
	EndY      string `json:"endY"`
	Format    string `json:"format,omitempty"`
	Count     int    `json:"count,omitempty"`
	StartName string `json:"startName,omitempty"`
	EndName   string `json:"endName,omitempty"`
}

type tmapTransitResponse struct {
	MetaData *struct {
		Plan struct {
			Itineraries []struct {
				TotalTime int `json:"totalTime"`
			} `json:"itineraries"`
		} `json:"plan"`
	} `json:"metaData"`
}

func (d *DirectionsEstimator) transit(ctx context.Context, from, to types.Location) (int, error) {
	body := tmapPoints{
		StartX: coord(from.Longitude), StartY: coord(from.Latitude),
		EndX: coord(to.Longitude), EndY: coord(to.Latitude),
		Format: "json", Count: 1,
	}
	var resp tmapTransitResponse
	if err := d.postTmap(ctx, "/transit/routes", body, &resp); err != nil {
		return 0, err
	}
	if resp.MetaData == nil || len(resp.MetaData.Plan.Itineraries) == 0 {
		return 0, fmt.Errorf("%w: tmap returned no transit itinerary", ErrUnavailable)
	}
	return resp.MetaData.Plan.Itineraries[0].TotalTime, nil
}

type tmapPedestrianResponse struct {
	Features []struct {
		Properties struct {
			TotalTime *int `json:"totalTime"`
		} `json:"properties"`
	} `json:"features"`
}

func (d *DirectionsEstimator) walk(ctx context.Context, from, to types.Location) (int, error) {
	body := tmapPoints{
		StartX: coord(from.Longitude), StartY: coord(from.Latitude),
		EndX: coord(to.Longitude), EndY: coord(to.Latitude),
		StartName: "start", EndName: "end",
	}
	var resp tmapPedestrianResponse
	if err := d.postTmap(ctx, "/tmap/routes/pedestrian?version=1", body, &resp); err != nil {
		return 0, err
	}
	if len(resp.Features) == 0 || resp.Features[0].Properties.TotalTime == nil {
		return 0, fmt.Errorf("%w: tmap returned no pedestrian route", ErrUnavailable)
	}
	return *resp.Features[0].Properties.TotalTime, nil
}

func (d *DirectionsEstimator) postTmap(ctx context.Context, path string, body tmapPoints, out any) error {
	if d.tmapKey == "" {
		return fmt.Errorf("%w: tmap key not configured", ErrUnavailable)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding tmap request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.tmapBaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building tmap request: %w", err)
	}
	req.Header.Set("appKey", d.tmapKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return d.do(req, out)
}

func (d *DirectionsEstimator) do(req *http.Request, out any) error {
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%w: %w", ErrUnavailable, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			URL:        req.URL.Redacted(),
			Body:       strings.TrimSpace(string(b)),
		})
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %w", ErrUnavailable, err)
	}
	return nil
}

func coord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func lonLat(l types.Location) string {
	return coord(l.Longitude) + "," + coord(l.Latitude)
}

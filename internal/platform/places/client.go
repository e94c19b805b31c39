package places

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
)

// ErrNoMatch means the search ran fine but nothing plausible came back.
var ErrNoMatch = errors.New("places: no match")

// Place is the subset of venue facts the planner cares about.
type Place struct {
	PlaceID string
	Name    string
	Address string
	Lat     float64
	Lng     float64
	Rating  float64
	OpenNow *bool
	Types   []string
}

type Client interface {
	FindPlace(ctx context.Context, query string, lat, lng float64) (*Place, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
	radiusM    float64
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(os.Getenv("PLACES_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing PLACES_API_KEY")
	}

	baseURL := strings.TrimSpace(os.Getenv("PLACES_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://places.googleapis.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeoutSec := 10
	if v := strings.TrimSpace(os.Getenv("PLACES_TIMEOUT_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	radiusM := 25000.0
	if v := strings.TrimSpace(os.Getenv("PLACES_BIAS_RADIUS_METERS")); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			radiusM = parsed
		}
	}

	return &client{
		log:        log.With("service", "PlacesClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		radiusM:    radiusM,
	}, nil
}

type searchTextRequest struct {
	TextQuery    string `json:"textQuery"`
	MaxResults   int    `json:"maxResultCount"`
	LocationBias *struct {
		Circle struct {
			Center struct {
				Latitude  float64 `json:"latitude"`
				Longitude float64 `json:"longitude"`
			} `json:"center"`
			Radius float64 `json:"radius"`
		} `json:"circle"`
	} `json:"locationBias,omitempty"`
}

type searchTextResponse struct {
	Places []struct {
		ID          string `json:"id"`
		DisplayName struct {
			Text string `json:"text"`
		} `json:"displayName"`
		FormattedAddress string `json:"formattedAddress"`
		Location         struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"location"`
		Rating              float64  `json:"rating"`
		Types               []string `json:"types"`
		CurrentOpeningHours *struct {
			OpenNow bool `json:"openNow"`
		} `json:"currentOpeningHours"`
	} `json:"places"`
}

const searchFieldMask = "places.id,places.displayName,places.formattedAddress,places.location,places.rating,places.types,places.currentOpeningHours.openNow"

func (c *client) FindPlace(ctx context.Context, query string, lat, lng float64) (*Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrNoMatch
	}

	req := searchTextRequest{TextQuery: query, MaxResults: 1}
	if lat != 0 || lng != 0 {
		req.LocationBias = &struct {
			Circle struct {
				Center struct {
					Latitude  float64 `json:"latitude"`
					Longitude float64 `json:"longitude"`
				} `json:"center"`
				Radius float64 `json:"radius"`
			} `json:"circle"`
		}{}
		req.LocationBias.Circle.Center.Latitude = lat
		req.LocationBias.Circle.Center.Longitude = lng
		req.LocationBias.Circle.Radius = c.radiusM
	}

	var resp searchTextResponse
	if err := c.do(ctx, "/v1/places:searchText", &req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Places) == 0 {
		return nil, ErrNoMatch
	}

	p := resp.Places[0]
	out := &Place{
		PlaceID: p.ID,
		Name:    p.DisplayName.Text,
		Address: p.FormattedAddress,
		Lat:     p.Location.Latitude,
		Lng:     p.Location.Longitude,
		Rating:  p.Rating,
		Types:   p.Types,
	}
	if p.CurrentOpeningHours != nil {
		open := p.CurrentOpeningHours.OpenNow
		out.OpenNow = &open
	}
	return out, nil
}

func (c *client) do(ctx context.Context, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", searchFieldMask)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("places http %d: %s", resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	if uErr := json.Unmarshal(raw, out); uErr != nil {
		return fmt.Errorf("places decode error: %w; raw=%s", uErr, string(raw))
	}
	return nil
}

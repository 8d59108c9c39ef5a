package access

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Detection is the result of running plate recognition on a capture.
type Detection struct {
	Plate       string  `json:"placa"`
	Confidence  float64 `json:"confianza"`
	VehicleType string  `json:"tipo_vehiculo,omitempty"`
	Color       string  `json:"color,omitempty"`
	Provider    string  `json:"proveedor"`
}

// Detector recognizes license plates in images. The actual algorithm
// lives behind a cloud API; this codebase only ships bytes and reads
// back structured results.
type Detector interface {
	Detect(ctx context.Context, image []byte) (Detection, error)
	Health(ctx context.Context) error
}

// HTTPDetector calls a cloud vision endpoint.
type HTTPDetector struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPDetector builds HTTPDetector instance.
func NewHTTPDetector(baseURL, apiKey string, client *http.Client) *HTTPDetector {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPDetector{baseURL: baseURL, apiKey: apiKey, client: client}
}

func (d *HTTPDetector) Detect(ctx context.Context, image []byte) (Detection, error) {
	payload, err := json.Marshal(map[string]any{"image": image})
	if err != nil {
		return Detection{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v1/detect", bytes.NewReader(payload))
	if err != nil {
		return Detection{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)

	res, err := d.client.Do(req)
	if err != nil {
		return Detection{}, fmt.Errorf("access: vision request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return Detection{}, fmt.Errorf("access: vision status %d", res.StatusCode)
	}
	var detection Detection
	if err := json.NewDecoder(res.Body).Decode(&detection); err != nil {
		return Detection{}, fmt.Errorf("access: vision decode: %w", err)
	}
	detection.Plate = NormalizePlate(detection.Plate)
	return detection, nil
}

func (d *HTTPDetector) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	res, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("access: vision unreachable: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("access: vision status %d", res.StatusCode)
	}
	return nil
}

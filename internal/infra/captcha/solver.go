// Package captcha preprocesses challenge images and delegates recognition
// to an external solver service.
package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/disintegration/imaging"

	"rail_sniper/internal/domain"
)

// Preprocessing target dimensions of the upstream challenge image.
const (
	targetWidth  = 293
	targetHeight = 190
)

// Preprocess normalizes a challenge image before recognition: grayscale,
// resize to the expected dimensions, and a contrast boost. Solvers perform
// measurably better on the cleaned-up image.
func Preprocess(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode captcha image: %w", err)
	}

	img = imaging.Grayscale(img)
	img = imaging.Resize(img, targetWidth, targetHeight, imaging.Lanczos)
	img = imaging.AdjustContrast(img, 20)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode captcha image: %w", err)
	}
	return buf.Bytes(), nil
}

// HTTPSolver submits images to a recognition service over HTTP and
// implements domain.CaptchaSolver.
type HTTPSolver struct {
	url        string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPSolver creates a solver client for the given service URL.
func NewHTTPSolver(url, token string, timeout time.Duration) *HTTPSolver {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSolver{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default().With("module", "captcha"),
	}
}

type solveRequest struct {
	Token      string `json:"token,omitempty"`
	FileBase64 string `json:"file_base64"`
}

type solveResponse struct {
	Success bool   `json:"success"`
	Result  string `json:"result"`
	Message string `json:"message"`
}

// Solve preprocesses the image and asks the external service for a token.
func (s *HTTPSolver) Solve(ctx context.Context, img []byte) (string, error) {
	processed, err := Preprocess(img)
	if err != nil {
		// Recognition may still work on the raw bytes.
		s.logger.Warn("captcha preprocessing failed, sending raw image", slog.Any("error", err))
		processed = img
	}

	payload, err := json.Marshal(solveRequest{
		Token:      s.token,
		FileBase64: base64.StdEncoding.EncodeToString(processed),
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", &domain.OrderError{Kind: domain.FailCaptchaFailed, Message: err.Error(), Retriable: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.OrderError{Kind: domain.FailCaptchaFailed, Message: err.Error(), Retriable: true}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &domain.OrderError{
			Kind:      domain.FailCaptchaFailed,
			Message:   fmt.Sprintf("solver returned status %d", resp.StatusCode),
			Retriable: true,
		}
	}

	var sr solveResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", &domain.OrderError{Kind: domain.FailCaptchaFailed, Message: "malformed solver response", Retriable: true}
	}
	if !sr.Success || sr.Result == "" {
		return "", &domain.OrderError{
			Kind:      domain.FailCaptchaFailed,
			Message:   sr.Message,
			Retriable: true,
		}
	}
	return sr.Result, nil
}

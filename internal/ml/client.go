// Package ml talks to the external inference service over NATS
// request-reply. The service is a black box returning feature vectors,
// text or labels plus a structured error code.
package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectClip    = "ml.clip"
	SubjectOCR     = "ml.ocr"
	SubjectCaption = "ml.caption"
	SubjectFace    = "ml.face"
)

// Error codes returned by the inference service.
const (
	CodeInvalidArgument  = "INVALID_ARGUMENT"
	CodeUnavailable      = "UNAVAILABLE"
	CodeDeadlineExceeded = "DEADLINE_EXCEEDED"
	CodeInternal         = "INTERNAL"
)

// Error is a structured failure from the inference service.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("ml service: %s: %s", e.Code, e.Message)
}

// IsRetryable reports whether the failure is transient infrastructure
// trouble worth retrying, as opposed to a problem with the input itself.
func IsRetryable(err error) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Code == CodeUnavailable || me.Code == CodeDeadlineExceeded
	}
	// Transport-level failures are transient too.
	return true
}

type request struct {
	AssetID   string `json:"asset_id"`
	ImageData []byte `json:"image_data"`
	Prompt    string `json:"prompt,omitempty"`
}

// FaceBox is one detected face with a normalized bounding box.
type FaceBox struct {
	X1         float32 `json:"x1"`
	Y1         float32 `json:"y1"`
	X2         float32 `json:"x2"`
	Y2         float32 `json:"y2"`
	Confidence float32 `json:"confidence"`
}

type response struct {
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
	Vector  []float32 `json:"vector,omitempty"`
	Text    string    `json:"text,omitempty"`
	Faces   []FaceBox `json:"faces,omitempty"`
}

// Client issues inference requests.
type Client struct {
	nc      *nats.Conn
	timeout time.Duration
}

func NewClient(natsURL string, timeout time.Duration) (*Client, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{nc: nc, timeout: timeout}, nil
}

func (c *Client) Close() {
	c.nc.Close()
}

func (c *Client) Ping() error {
	if !c.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (c *Client) call(ctx context.Context, subject string, req request) (*response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", subject, err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg, err := c.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Code: CodeDeadlineExceeded, Message: "inference request timed out"}
		}
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, &Error{Code: CodeUnavailable, Message: "no inference service responding"}
		}
		return nil, fmt.Errorf("request %s: %w", subject, err)
	}

	var resp response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", subject, err)
	}
	if resp.Code != "" {
		return nil, &Error{Code: resp.Code, Message: resp.Message}
	}
	return &resp, nil
}

// Embed returns the feature vector for the image.
func (c *Client) Embed(ctx context.Context, assetID string, image []byte) ([]float32, error) {
	resp, err := c.call(ctx, SubjectClip, request{AssetID: assetID, ImageData: image})
	if err != nil {
		return nil, err
	}
	if len(resp.Vector) == 0 {
		return nil, &Error{Code: CodeInternal, Message: "empty embedding vector"}
	}
	return resp.Vector, nil
}

// OCR extracts text from the image.
func (c *Client) OCR(ctx context.Context, assetID string, image []byte) (string, error) {
	resp, err := c.call(ctx, SubjectOCR, request{AssetID: assetID, ImageData: image})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Caption generates a description of the image.
func (c *Client) Caption(ctx context.Context, assetID string, image []byte, prompt string) (string, error) {
	resp, err := c.call(ctx, SubjectCaption, request{AssetID: assetID, ImageData: image, Prompt: prompt})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// DetectFaces returns bounding boxes for faces found in the image.
func (c *Client) DetectFaces(ctx context.Context, assetID string, image []byte) ([]FaceBox, error) {
	resp, err := c.call(ctx, SubjectFace, request{AssetID: assetID, ImageData: image})
	if err != nil {
		return nil, err
	}
	return resp.Faces, nil
}

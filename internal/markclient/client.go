// Package markclient calls the attendance marking endpoint.
package markclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// MarkPath is appended to the base URL.
const MarkPath = "/api/attendance/mark"

// DefaultTimeout bounds one mark request end to end.
const DefaultTimeout = 45 * time.Second

// Response statuses returned by the endpoint.
const (
	StatusCheckedIn     = "checked_in"
	StatusCheckedOut    = "checked_out"
	StatusAlreadyMarked = "already_marked"
)

// MarkRequest is one attendance submission.
type MarkRequest struct {
	Latitude  float64
	Longitude float64
	At        time.Time
	Image     []byte
	Filename  string
	Token     string
}

// MarkResponse is the decoded success body.
type MarkResponse struct {
	Status       string `json:"status"`
	EmployeeName string `json:"employee_name"`
	InTime       string `json:"in_time,omitempty"`
	OutTime      string `json:"out_time,omitempty"`
	Message      string `json:"message,omitempty"`
}

// Client posts multipart mark requests.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Timeout time.Duration
}

// New creates a client with the default request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Timeout: timeout,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// FormatTimestamp renders t the way the endpoint expects: UTC, millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// FormatDate renders the UTC calendar date of t.
func FormatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Mark sends one request. Every failure is returned as *SubmissionError.
func (c *Client) Mark(ctx context.Context, r MarkRequest) (*MarkResponse, error) {
	if len(r.Image) == 0 {
		return nil, &SubmissionError{Kind: KindInvalidRequest, Message: "image required"}
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	body, contentType, err := encodeForm(r)
	if err != nil {
		return nil, &SubmissionError{Kind: KindNetwork, Err: fmt.Errorf("build form: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+MarkPath, body)
	if err != nil {
		return nil, &SubmissionError{Kind: KindNetwork, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, &SubmissionError{Kind: KindTimeout, Err: err}
		}
		return nil, &SubmissionError{Kind: KindNetwork, Err: fmt.Errorf("mark request failed: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, &SubmissionError{Kind: KindTimeout, StatusCode: resp.StatusCode, Err: err}
		}
		return nil, &SubmissionError{Kind: KindNetwork, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, raw)
	}

	var out MarkResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &SubmissionError{Kind: KindUnexpectedResponse, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if err := validate(out); err != nil {
		return nil, &SubmissionError{Kind: KindUnexpectedResponse, StatusCode: resp.StatusCode, Err: err}
	}
	return &out, nil
}

func encodeForm(r MarkRequest) (io.Reader, string, error) {
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	name := r.Filename
	if name == "" {
		name = "attendance-photo.jpg"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"latitude", strconv.FormatFloat(r.Latitude, 'f', -1, 64)},
		{"longitude", strconv.FormatFloat(r.Longitude, 'f', -1, 64)},
		{"timestamp", FormatTimestamp(at)},
		{"date", FormatDate(at)},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, name))
	h.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(r.Image); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func validate(r MarkResponse) error {
	switch r.Status {
	case StatusCheckedIn, StatusCheckedOut:
		if r.EmployeeName == "" {
			return fmt.Errorf("status %q without employee_name", r.Status)
		}
		return nil
	case StatusAlreadyMarked:
		return nil
	case "":
		return errors.New("response missing status")
	default:
		return fmt.Errorf("unknown status %q", r.Status)
	}
}

func statusError(code int, raw []byte) *SubmissionError {
	var body struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(raw, &body)

	e := &SubmissionError{StatusCode: code, Message: body.Message}
	switch {
	case code == http.StatusBadRequest:
		e.Kind = KindInvalidRequest
	case code == http.StatusUnauthorized:
		e.Kind = KindUnauthorized
	case code == http.StatusNotFound:
		e.Kind = KindNotFound
	case code >= 500:
		e.Kind = KindServerError
	default:
		e.Kind = KindUnexpectedResponse
	}
	if e.Message == "" {
		e.Err = fmt.Errorf("mark endpoint error %d: %s", code, strings.TrimSpace(string(raw)))
	}
	return e
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

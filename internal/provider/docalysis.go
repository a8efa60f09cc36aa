package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"time"

	"docrelay/internal/domain"
)

const defaultDocalysisBase = "https://api1.docalysis.com/api/v1"

// Docalysis is the document-QA service. Questions go to a directory chat
// that covers every uploaded PDF; new PDFs are pushed with Upload.
type Docalysis struct {
	apiBase      string
	apiKey       string
	directoryID  string
	promptPrefix string
	promptSuffix string
	readiness    ReadinessConfig
	client       *http.Client
	logger       *slog.Logger
}

type DocalysisConfig struct {
	APIBase     string
	APIKey      string
	DirectoryID string
	// PromptPrefix and PromptSuffix wrap every question. The suffix is
	// where the fallback phrase instruction lives.
	PromptPrefix string
	PromptSuffix string
	Timeout      time.Duration
	Readiness    ReadinessConfig
	Client       *http.Client
	Logger       *slog.Logger
}

func NewDocalysis(cfg DocalysisConfig) *Docalysis {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultDocalysisBase
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Readiness.PollInterval <= 0 {
		cfg.Readiness.PollInterval = 2 * time.Second
	}
	if cfg.Readiness.MaxAttempts <= 0 {
		cfg.Readiness.MaxAttempts = 30
	}
	return &Docalysis{
		apiBase:      strings.TrimRight(cfg.APIBase, "/"),
		apiKey:       cfg.APIKey,
		directoryID:  cfg.DirectoryID,
		promptPrefix: cfg.PromptPrefix,
		promptSuffix: cfg.PromptSuffix,
		readiness:    cfg.Readiness,
		client:       cfg.Client,
		logger:       cfg.Logger,
	}
}

func (d *Docalysis) Name() string { return "docalysis" }

type docChatRequest struct {
	Message string `json:"message"`
}

type docChatResponse struct {
	Response *string `json:"response"`
	Error    string  `json:"error,omitempty"`
}

type docFile struct {
	ID             string `json:"id"`
	Name           string `json:"name,omitempty"`
	ProcessedState string `json:"processed_state,omitempty"`
}

type docFileResponse struct {
	Success bool    `json:"success"`
	File    docFile `json:"file"`
	Error   string  `json:"error,omitempty"`
}

type docDirectory struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type docDirectoriesResponse struct {
	Directories []docDirectory `json:"directories"`
}

type docCreateResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Query asks the configured directory. The question is wrapped in the
// instruction prompt.
func (d *Docalysis) Query(ctx context.Context, text string) (string, error) {
	if d.directoryID == "" {
		return "", errors.New("docalysis: no directory configured")
	}
	return d.chat(ctx, "directories/"+url.PathEscape(d.directoryID)+"/chat", d.promptPrefix+text+d.promptSuffix)
}

// ChatWithFile asks a single uploaded file. The message is sent as is.
func (d *Docalysis) ChatWithFile(ctx context.Context, fileID, message string) (string, error) {
	return d.chat(ctx, "files/"+url.PathEscape(fileID)+"/chat", message)
}

// chat uses GET with a JSON body, which is what the Docalysis chat
// endpoints accept.
func (d *Docalysis) chat(ctx context.Context, endpoint, message string) (string, error) {
	var out docChatResponse
	if err := d.doJSON(ctx, http.MethodGet, endpoint, docChatRequest{Message: message}, &out); err != nil {
		return "", err
	}
	if out.Response == nil {
		if out.Error != "" {
			return "", fmt.Errorf("docalysis: %s", out.Error)
		}
		return "", errors.New("docalysis: response field missing")
	}
	return *out.Response, nil
}

// Upload sends a local PDF to files/create and returns the new file id.
// The multipart body is streamed from disk on every attempt.
func (d *Docalysis) Upload(ctx context.Context, localPath, name, directory string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", fmt.Errorf("docalysis upload: %w", err)
	}

	resp, err := doWithRetry(ctx, d.client, func() (*http.Request, error) {
		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		go func() {
			pw.CloseWithError(writeUploadForm(mw, localPath, name, directory))
		}()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.apiBase+"/files/create", pr)
		if err != nil {
			pr.Close()
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	}, d.logger)
	if err != nil {
		return "", fmt.Errorf("docalysis upload %s: %w", name, err)
	}
	if err := checkStatus(resp); err != nil {
		return "", fmt.Errorf("docalysis upload %s: %w", name, err)
	}
	defer resp.Body.Close()

	var out docFileResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("docalysis upload %s: decode: %w", name, err)
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "no error message provided"
		}
		return "", fmt.Errorf("docalysis upload %s: %s", name, msg)
	}
	d.logger.Info("file uploaded to docalysis", "name", name, "file_id", out.File.ID, "directory", directory)
	return out.File.ID, nil
}

func writeUploadForm(mw *multipart.Writer, localPath, name, directory string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", "application/pdf")
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	if err := mw.WriteField("name", name); err != nil {
		return err
	}
	if directory != "" {
		if err := mw.WriteField("path", directory); err != nil {
			return err
		}
	}
	return mw.Close()
}

// ProcessedState returns the processing state reported for a file.
func (d *Docalysis) ProcessedState(ctx context.Context, fileID string) (string, error) {
	var out docFileResponse
	if err := d.doJSON(ctx, http.MethodGet, "files/"+url.PathEscape(fileID)+"/info", nil, &out); err != nil {
		return "", err
	}
	return out.File.ProcessedState, nil
}

// WaitProcessed blocks until the file is processed or the readiness budget
// runs out.
func (d *Docalysis) WaitProcessed(ctx context.Context, fileID string) error {
	state, err := WaitReady(ctx, d.readiness, func(ctx context.Context) (bool, error) {
		s, err := d.ProcessedState(ctx, fileID)
		return s == "processed", err
	})
	d.logger.Debug("docalysis readiness", "file_id", fileID, "state", state)
	return err
}

// Ensure finds a directory by name (trimmed, case-insensitive) or creates
// it, returning the name as stored remotely. A failed listing falls through
// to creation.
func (d *Docalysis) Ensure(ctx context.Context, name string) (string, error) {
	want := strings.ToLower(strings.TrimSpace(name))

	var list docDirectoriesResponse
	if err := d.doJSON(ctx, http.MethodGet, "directories", nil, &list); err != nil {
		d.logger.Warn("docalysis directory listing failed", "err", err)
	} else {
		for _, dir := range list.Directories {
			if strings.ToLower(strings.TrimSpace(dir.Name)) == want {
				return dir.Name, nil
			}
		}
	}

	var created docCreateResponse
	if err := d.doJSON(ctx, http.MethodPost, "directories/create", map[string]string{"name": name}, &created); err != nil {
		return "", fmt.Errorf("docalysis create directory %q: %w", name, err)
	}
	if !created.Success {
		msg := created.Error
		if msg == "" {
			msg = "directory could not be created"
		}
		return "", fmt.Errorf("docalysis create directory %q: %s", name, msg)
	}
	d.logger.Info("docalysis directory created", "name", name)
	return name, nil
}

// Healthy checks that the API key is accepted.
func (d *Docalysis) Healthy(ctx context.Context) error {
	var list docDirectoriesResponse
	if err := d.doJSON(ctx, http.MethodGet, "directories", nil, &list); err != nil {
		return fmt.Errorf("docalysis not reachable: %w", err)
	}
	return nil
}

func (d *Docalysis) doJSON(ctx context.Context, method, endpoint string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
	}

	resp, err := doWithRetry(ctx, d.client, func() (*http.Request, error) {
		var r io.Reader
		if payload != nil {
			r = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, d.apiBase+"/"+endpoint, r)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, d.logger)
	if err != nil {
		return fmt.Errorf("docalysis %s: %w", endpoint, err)
	}
	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("docalysis %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("docalysis %s: decode: %w", endpoint, err)
	}
	return nil
}

var (
	_ domain.AnswerProvider    = (*Docalysis)(nil)
	_ domain.CorpusUploader    = (*Docalysis)(nil)
	_ domain.DirectoryProvider = (*Docalysis)(nil)
	_ domain.HealthChecker     = (*Docalysis)(nil)
)

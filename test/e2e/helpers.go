//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloo-solutions/clipfinder/internal/api/handlers"
	"github.com/cloo-solutions/clipfinder/internal/api/middleware"
	"github.com/cloo-solutions/clipfinder/internal/cli/admin"
	"github.com/cloo-solutions/clipfinder/internal/config"
	"github.com/cloo-solutions/clipfinder/internal/server"
	"github.com/cloo-solutions/clipfinder/internal/storage"
	"github.com/cloo-solutions/clipfinder/internal/testutil"
)

const e2eBucket = "e2e-index"

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Engine       *admin.Engine
	MediaDir     string
	ServerURL    string
	ServerCloser func()
	BinaryDir    string
	HTTPClient   *http.Client
}

// fixtureVideo is a media file plus an optional .txt transcript sidecar.
type fixtureVideo struct {
	base       string
	transcript string
}

var fixtures = []fixtureVideo{
	{
		base:       "Greek_Word_Study_Basics",
		transcript: "In this lesson we open the lexicon and trace a greek word study from the root to every usage in the text.",
	},
	{
		base:       "Creating_Reading_Plans",
		transcript: "A reading plan spreads a book over days. Pick a start date and the plan schedules each daily reading for you.",
	},
	{
		base:       "Hebrew_Verb_Parsing",
		transcript: "Parsing a hebrew verb starts with the stem. The morphology panel shows person gender and number for the selected word.",
	},
	{base: "Printing_Layout_Options"},
}

// SetupE2EEnv starts Postgres and RustFS, writes a media library, and serves the
// full engine over HTTP. Transcription stays disabled so ranking is lexical.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)

	mediaDir := t.TempDir()
	writeFixtures(t, mediaDir)

	t.Setenv("CLIPFINDER_MEDIA_DIR", mediaDir)
	t.Setenv("CLIPFINDER_FFPROBE_PATH", filepath.Join(mediaDir, "no-such-ffprobe"))
	t.Setenv("CLIPFINDER_OPENAI_API_KEY", "")
	t.Setenv("CLIPFINDER_DATABASE_URL", pgC.ConnectionString())
	t.Setenv("CLIPFINDER_S3_ENDPOINT", s3C.Endpoint())
	t.Setenv("CLIPFINDER_S3_ACCESS_KEY_ID", testutil.RustFSCredential)
	t.Setenv("CLIPFINDER_S3_SECRET_ACCESS_KEY", testutil.RustFSCredential)
	t.Setenv("CLIPFINDER_S3_BUCKET", e2eBucket)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	engine, err := admin.NewEngine(ctx, cfg, admin.EngineOptions{
		Migrate:          true,
		MigrationsSource: "file://../../migrations",
	})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	if _, err := engine.Search.Refresh(ctx, true); err != nil {
		t.Fatalf("failed to hydrate catalog: %v", err)
	}

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	serverURL, serverCloser := startServer(t, engine, mediaDir, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		RustFSC:      s3C,
		Engine:       engine,
		MediaDir:     mediaDir,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Engine != nil {
		e.Engine.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
	if e.BinaryDir != "" {
		os.RemoveAll(e.BinaryDir)
	}
}

func writeFixtures(t *testing.T, dir string) {
	t.Helper()
	for _, f := range fixtures {
		write := func(name, content string) {
			if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
				t.Fatalf("failed to write fixture %s: %v", name, err)
			}
		}
		write(f.base+".mp4", "not really a video")
		if f.transcript != "" {
			write(f.base+".txt", f.transcript)
		}
	}
}

// BuildBinaries builds the clipfinder client binary
func (e *E2ETestEnv) BuildBinaries() {
	tmpDir, err := os.MkdirTemp("", "clipfinder-e2e-*")
	if err != nil {
		e.T.Fatalf("failed to create temp dir: %v", err)
	}
	e.BinaryDir = tmpDir

	cmd := exec.Command("go", "build", "-o", filepath.Join(tmpDir, "clipfinder"), "./cmd/clipfinder")
	cmd.Dir = "../.."
	if out, err := cmd.CombinedOutput(); err != nil {
		e.T.Fatalf("failed to build clipfinder: %v\n%s", err, out)
	}
}

// RunClipfinder runs the clipfinder CLI against the test server
func (e *E2ETestEnv) RunClipfinder(args ...string) (string, error) {
	cmd := exec.Command(filepath.Join(e.BinaryDir, "clipfinder"), args...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("CLIPFINDER_API_URL=%s", e.ServerURL))
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// IndexMirror returns a mirror reader over the test bucket.
func (e *E2ETestEnv) IndexMirror() *storage.IndexMirror {
	client, err := storage.NewS3Client(e.Ctx, storage.S3ClientConfig{
		Endpoint:        e.RustFSC.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     testutil.RustFSCredential,
		SecretAccessKey: testutil.RustFSCredential,
		Bucket:          e2eBucket,
		UsePathStyle:    true,
	})
	if err != nil {
		e.T.Fatalf("failed to create S3 client: %v", err)
	}
	return storage.NewIndexMirror(client, "", 0)
}

// APIResponse represents a standard API response
type APIResponse struct {
	Status int             `json:"-"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path string) (*APIResponse, error) {
	return e.doRequest(http.MethodGet, path, nil)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body interface{}) (*APIResponse, error) {
	return e.doRequest(http.MethodPost, path, body)
}

// doRequest returns the decoded envelope for any status. Transport and decode
// failures are errors; API errors are reported through Status and Error.
func (e *E2ETestEnv) doRequest(method, path string, body interface{}) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, e.ServerURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	apiResp := APIResponse{Status: resp.StatusCode}
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return &apiResp, nil
}

func startServer(t *testing.T, engine *admin.Engine, mediaDir string, port int) (string, func()) {
	router := server.NewRouter(server.RouterConfig{
		SearchHandler: handlers.NewSearchHandler(engine.Search, engine.SearchLogRepository()),
		VideoHandler:  handlers.NewVideoHandler(engine.Search),
		RateLimiter:   middleware.NewRateLimiter(1000, 1000),
		MediaDir:      mediaDir,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

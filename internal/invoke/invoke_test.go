package invoke

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/nexcron/internal/config"
	"github.com/aatumaykin/nexcron/internal/logger"
	"github.com/aatumaykin/nexcron/internal/registry"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

func TestShell(t *testing.T) {
	requireBinary(t, "sh")

	tests := []struct {
		name    string
		args    []string
		env     map[string]string
		want    string
		wantErr string
	}{
		{name: "stdout", args: []string{"-c", "echo hello"}, want: "hello\n"},
		{name: "env", args: []string{"-c", "echo $NEXCRON_GREETING"}, env: map[string]string{"NEXCRON_GREETING": "hi"}, want: "hi\n"},
		{name: "exit code", args: []string{"-c", "echo oops >&2; exit 3"}, wantErr: "exit code 3: oops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sh, err := NewShell("sh", tt.args, "", tt.env, []string{"sh"})
			require.NoError(t, err)

			out, err := sh.Invoke(context.Background())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestShell_NotAllowed(t *testing.T) {
	_, err := NewShell("rm", []string{"-rf", "/"}, "", nil, []string{"echo"})
	assert.ErrorIs(t, err, ErrCommandNotAllowed)

	_, err = NewShell("", nil, "", nil, nil)
	assert.Error(t, err)
}

func TestShell_ContextDeadline(t *testing.T) {
	requireBinary(t, "sleep")

	sh, err := NewShell("sleep", []string{"5"}, "", nil, []string{"sleep"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = sh.Invoke(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestShell_OutputTruncated(t *testing.T) {
	requireBinary(t, "sh")

	sh, err := NewShell("sh", []string{"-c", "head -c 10000 /dev/zero | tr '\\0' x; echo END"}, "", nil, []string{"sh"})
	require.NoError(t, err)

	out, err := sh.Invoke(context.Background())
	require.NoError(t, err)
	assert.Len(t, out, MaxOutput)
	assert.True(t, strings.HasSuffix(out, "END\n"))
}

const page = `<html><head><title>t</title><style>body{}</style><script>var x=1;</script></head>
<body><nav>menu</nav><h1>Backup</h1><p>All <b>good</b>.</p><footer>foot</footer></body></html>`

func TestHTTP(t *testing.T) {
	var (
		mu                         sync.Mutex
		gotMethod, gotAuth, gotLen string
	)
	seen := func() (string, string, string) {
		mu.Lock()
		defer mu.Unlock()
		return gotMethod, gotAuth, gotLen
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		gotLen = strconv.FormatInt(r.ContentLength, 10)
		mu.Unlock()

		switch r.URL.Path {
		case "/fail":
			http.Error(w, "broken", http.StatusInternalServerError)
		case "/json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":true}`))
		default:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(page))
		}
	}))
	defer srv.Close()

	t.Run("raw", func(t *testing.T) {
		h, err := NewHTTP(srv.URL+"/json", "", nil, "", "", time.Second, 0, "nexcron-test")
		require.NoError(t, err)
		out, err := h.Invoke(context.Background())
		require.NoError(t, err)
		assert.Equal(t, `{"ok":true}`, out)
		method, _, _ := seen()
		assert.Equal(t, http.MethodGet, method)
	})

	t.Run("text", func(t *testing.T) {
		h, err := NewHTTP(srv.URL, "GET", nil, "", RenderText, time.Second, 0, "")
		require.NoError(t, err)
		out, err := h.Invoke(context.Background())
		require.NoError(t, err)
		assert.Contains(t, out, "Backup")
		assert.Contains(t, out, "All good.")
		assert.NotContains(t, out, "var x")
		assert.NotContains(t, out, "menu")
	})

	t.Run("markdown", func(t *testing.T) {
		h, err := NewHTTP(srv.URL, "GET", nil, "", RenderMarkdown, time.Second, 0, "")
		require.NoError(t, err)
		out, err := h.Invoke(context.Background())
		require.NoError(t, err)
		assert.Contains(t, out, "# Backup")
		assert.Contains(t, out, "**good**")
		assert.NotContains(t, out, "foot")
	})

	t.Run("post with headers", func(t *testing.T) {
		h, err := NewHTTP(srv.URL+"/json", "post", map[string]string{"Authorization": "Bearer t"}, `{"a":1}`, "", time.Second, 0, "")
		require.NoError(t, err)
		_, err = h.Invoke(context.Background())
		require.NoError(t, err)
		method, auth, length := seen()
		assert.Equal(t, http.MethodPost, method)
		assert.Equal(t, "Bearer t", auth)
		assert.Equal(t, "7", length)
	})

	t.Run("error status", func(t *testing.T) {
		h, err := NewHTTP(srv.URL+"/fail", "", nil, "", "", time.Second, 0, "")
		require.NoError(t, err)
		out, err := h.Invoke(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "500")
		assert.Contains(t, out, "broken")
	})
}

func TestHTTP_Invalid(t *testing.T) {
	_, err := NewHTTP("ftp://example.com", "", nil, "", "", time.Second, 0, "")
	assert.Error(t, err)
	_, err = NewHTTP("https://example.com", "", nil, "", "pdf", time.Second, 0, "")
	assert.Error(t, err)
}

func TestHTTP_ContextCanceled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	h, err := NewHTTP(srv.URL, "", nil, "", "", 10*time.Second, 0, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = h.Invoke(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// fakeDocker simulates a daemon; containers run for polls inspections.
type fakeDocker struct {
	mu        sync.Mutex
	exitCode  int
	polls     int
	createErr error
	created   []ContainerSpec
	removed   []string
	inspects  map[string]int
}

func (f *fakeDocker) PullImage(context.Context, string, string) error { return nil }

func (f *fakeDocker) CreateContainer(_ context.Context, spec ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, spec)
	return fmt.Sprintf("c%015d", len(f.created)), nil
}

func (f *fakeDocker) StartContainer(context.Context, string) error { return nil }

func (f *fakeDocker) InspectContainer(_ context.Context, id string) (bool, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inspects == nil {
		f.inspects = make(map[string]int)
	}
	f.inspects[id]++
	if f.polls < 0 || f.inspects[id] <= f.polls {
		return true, 0, nil
	}
	return false, f.exitCode, nil
}

func (f *fakeDocker) RemoveContainer(_ context.Context, id string) error {
	f.mu.Lock()
	f.removed = append(f.removed, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeDocker) Close() error { return nil }

func TestDocker(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		api := &fakeDocker{polls: 2}
		d := &Docker{API: api, Spec: ContainerSpec{Image: "alpine", Cmd: []string{"true"}}, PollInterval: time.Millisecond}

		out, err := d.Invoke(context.Background())
		require.NoError(t, err)
		assert.Contains(t, out, "exited with code 0")
		assert.Len(t, api.removed, 1)
		assert.Equal(t, 3, api.inspects[api.removed[0]])
	})

	t.Run("non-zero exit", func(t *testing.T) {
		api := &fakeDocker{exitCode: 2}
		d := &Docker{API: api, Spec: ContainerSpec{Image: "alpine"}, PollInterval: time.Millisecond}

		_, err := d.Invoke(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "code 2")
		assert.Len(t, api.removed, 1)
	})

	t.Run("deadline removes container", func(t *testing.T) {
		api := &fakeDocker{polls: -1}
		d := &Docker{API: api, Spec: ContainerSpec{Image: "alpine"}, PollInterval: 5 * time.Millisecond}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		_, err := d.Invoke(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Len(t, api.removed, 1)
	})

	t.Run("circuit opens", func(t *testing.T) {
		api := &fakeDocker{createErr: &DockerError{Op: "create", Err: errors.New("daemon down"), Message: "x"}}
		d := &Docker{API: api, Spec: ContainerSpec{Image: "alpine"}, Breaker: NewCircuitBreaker(2, time.Hour)}

		for i := 0; i < 2; i++ {
			_, err := d.Invoke(context.Background())
			var dockerErr *DockerError
			assert.ErrorAs(t, err, &dockerErr)
		}
		_, err := d.Invoke(context.Background())
		assert.ErrorIs(t, err, ErrCircuitOpen)
	})
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.Allow(), "probe after timeout")
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.False(t, cb.Allow(), "single probe at a time")

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())

	var nilBreaker *CircuitBreaker
	assert.True(t, nilBreaker.Allow())
}

func TestParseMemory(t *testing.T) {
	tests := map[string]int64{
		"":      0,
		"128m":  128 << 20,
		"1g":    1 << 30,
		"512k":  512 << 10,
		"100":   100,
		"1.5g":  0,
		" 64M ": 64 << 20,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseMemory(in), "ParseMemory(%q)", in)
	}
}

func TestBuild(t *testing.T) {
	cfg := config.InvokersConfig{
		Shell:  config.ShellInvokerConfig{Enabled: true, AllowedCommands: []string{"echo"}},
		HTTP:   config.HTTPInvokerConfig{Enabled: true, TimeoutSeconds: 5},
		Docker: config.DefaultDockerInvokerConfig(),
	}

	inv, err := Build(config.CallableConfig{Name: "a", Kind: config.CallableShell, Command: "echo"}, cfg, Deps{})
	require.NoError(t, err)
	assert.IsType(t, &Shell{}, inv)

	inv, err = Build(config.CallableConfig{Name: "b", Kind: config.CallableHTTP, URL: "https://example.com", Render: "markdown"}, cfg, Deps{})
	require.NoError(t, err)
	assert.Equal(t, RenderMarkdown, inv.(*HTTP).Render)

	_, err = Build(config.CallableConfig{Name: "c", Kind: config.CallableDocker, Image: "alpine"}, cfg, Deps{})
	assert.Error(t, err, "docker disabled")

	cfg.Docker.Enabled = true
	_, err = Build(config.CallableConfig{Name: "c", Kind: config.CallableDocker, Image: "alpine"}, cfg, Deps{})
	assert.Error(t, err, "no docker client")

	inv, err = Build(config.CallableConfig{Name: "c", Kind: config.CallableDocker, Image: "alpine", Env: map[string]string{"A": "1"}}, cfg, Deps{Docker: &fakeDocker{}})
	require.NoError(t, err)
	d := inv.(*Docker)
	assert.Equal(t, int64(128<<20), d.Spec.Memory)
	assert.Equal(t, []string{"A=1"}, d.Spec.Env)
	assert.Equal(t, 200*time.Millisecond, d.PollInterval)

	_, err = Build(config.CallableConfig{Name: "d", Kind: "ftp"}, cfg, Deps{})
	assert.Error(t, err)
}

func TestRegisterAll(t *testing.T) {
	cfg := &config.Config{
		Invokers: config.InvokersConfig{
			Shell: config.ShellInvokerConfig{Enabled: true, AllowedCommands: []string{"echo"}},
		},
		Callables: []config.CallableConfig{
			{Name: "hello", Kind: config.CallableShell, Command: "echo", Args: []string{"hi"}},
			{Name: "noop", Kind: config.CallableShell, Command: "echo"},
		},
	}

	requireBinary(t, "echo")

	reg := registry.New()
	require.NoError(t, RegisterAll(reg, cfg, Deps{}, logger.Nop()))
	require.NoError(t, Builtins(reg))

	ref, err := reg.Resolve("noop")
	require.NoError(t, err)
	out, err := ref.Invoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "\n", out, "configured callable keeps its name")

	_, err = reg.Resolve("sleep")
	assert.NoError(t, err)
	assert.False(t, NeedsDocker(cfg))
}

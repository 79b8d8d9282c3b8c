package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "subforge/internal/contracts/renderer/v1"
	"subforge/internal/render"
	"subforge/internal/timing"
)

type cliResult struct {
	stdout string
	stderr string
	err    error
}

// syncBuffer is written from listener and timer goroutines as well as the
// command itself.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func runCLI(ctx context.Context, stdin string, args ...string) cliResult {
	cmd := newRootCommand()
	var out, errOut syncBuffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return cliResult{stdout: out.String(), stderr: errOut.String(), err: err}
}

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

// setupRedis points the CLI configuration at an in-process Redis.
func setupRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_ADDR", mr.Addr())
	t.Setenv("RENDERER_TRANSPORT", "redis")
	t.Setenv("STORAGE_PROVIDER", "localfs")
	t.Setenv("STORAGE_LOCAL_ROOT", t.TempDir())
	t.Setenv("RENDER_STALL_TIMEOUT_MS", "2000")
	return mr
}

const segmentYAML = `
start: 10
end: 13
text: a bb ccc
words:
  - {start: 10, end: 11, word: uno}
  - {start: 11, end: 12, word: dos}
  - {start: 12, end: 13, word: tres}
`

func TestAlignJSON(t *testing.T) {
	path := writeTemp(t, "segment.yaml", segmentYAML)

	res := runCLI(context.Background(), "", "align", "-f", path, "-o", "json")
	require.NoError(t, res.err, res.stderr)

	var a timing.Alignment
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &a))
	assert.True(t, a.Available)
	assert.Equal(t, []timing.TokenTiming{
		{Start: 0, End: 1, Word: "a"},
		{Start: 1, End: 2, Word: "bb"},
		{Start: 2, End: 3, Word: "ccc"},
	}, a.Tokens)
}

func TestAlignTableMarksUnavailable(t *testing.T) {
	input := `{"segments":[{"start":0,"end":2,"text":"hola","words":[]},{"start":0,"end":1,"text":"hi","words":[{"start":0,"end":1}]}]}`

	res := runCLI(context.Background(), input, "align", "-f", "-", "-o", "table")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "timings unavailable")
	assert.Contains(t, res.stdout, "hi")
	assert.Contains(t, res.stdout, "1.000")
}

func TestAlignRejectsEmptyInput(t *testing.T) {
	res := runCLI(context.Background(), "{}", "align", "-f", "-")
	assert.Error(t, res.err)

	res = runCLI(context.Background(), "", "align")
	assert.Error(t, res.err)
}

func TestDisplay(t *testing.T) {
	tokens := `[{"start":0,"end":1,"word":"a"},{"start":1,"end":2,"word":"b"},{"start":2,"end":3,"word":"c"},{"start":3,"end":4,"word":"d"}]`

	res := runCLI(context.Background(), tokens, "display", "-f", "-", "--at", "2.5", "--window", "3", "-o", "json")
	require.NoError(t, res.err)
	assert.JSONEq(t, `{"index":2,"from":1,"to":4,"line":"b [c] d"}`, res.stdout)

	alignment := `{"available":true,"tokens":` + tokens + `}`
	res = runCLI(context.Background(), alignment, "display", "-f", "-", "--at", "9", "--window", "2", "-o", "table")
	require.NoError(t, res.err)
	assert.Equal(t, "a b\n", res.stdout)

	res = runCLI(context.Background(), tokens, "display", "-f", "-", "--window", "0")
	assert.Error(t, res.err)
}

const requestYAML = `
operation_id: op-cli
cues:
  - start: 0
    end: 1.5
    text: hola mundo
video_duration: 2
video_width: 1280
video_height: 720
frame_rate: 25
`

func TestRenderAgainstEmulator(t *testing.T) {
	setupRedis(t)
	outDir := t.TempDir()
	reqPath := writeTemp(t, "request.yaml", requestYAML)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	emulated := make(chan cliResult, 1)
	go func() {
		emulated <- runCLI(ctx, "", "emulate", "--count", "1", "--steps", "2", "--interval", "5ms", "--out", outDir)
	}()

	res := runCLI(ctx, "", "render", "-f", reqPath, "--json")
	require.NoError(t, res.err, res.stderr)

	var result render.Result
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "op-cli", result.OperationID)
	assert.Equal(t, filepath.Join(outDir, "op-cli"), result.OutputPath)

	em := <-emulated
	require.NoError(t, em.err, em.stderr)
	assert.Contains(t, em.stdout, "served op-cli")

	srt, err := os.ReadFile(filepath.Join(outDir, "op-cli", "captions.srt"))
	require.NoError(t, err)
	assert.Equal(t, "1\n00:00:00,000 --> 00:00:01,500\nhola mundo\n\n", string(srt))
}

func TestRenderFailsOnStall(t *testing.T) {
	setupRedis(t)
	reqPath := writeTemp(t, "request.yaml", requestYAML)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	emulated := make(chan cliResult, 1)
	go func() {
		emulated <- runCLI(ctx, "", "emulate", "--count", "1", "--stall", "--out", t.TempDir())
	}()

	res := runCLI(ctx, "", "render", "-f", reqPath, "--timeout", "150ms")
	require.Error(t, res.err)
	assert.True(t, render.IsStalled(res.err), res.err.Error())
	assert.Contains(t, res.stdout, "layout")

	require.NoError(t, (<-emulated).err)
}

func TestRenderReportsRendererFailure(t *testing.T) {
	setupRedis(t)
	reqPath := writeTemp(t, "request.yaml", requestYAML)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	emulated := make(chan cliResult, 1)
	go func() {
		emulated <- runCLI(ctx, "", "emulate", "--count", "1", "--steps", "1", "--interval", "1ms", "--fail", "--out", t.TempDir())
	}()

	res := runCLI(ctx, "", "render", "-f", reqPath)
	require.Error(t, res.err)
	assert.True(t, render.IsFailed(res.err))
	assert.Contains(t, res.err.Error(), "emulated renderer failure")

	require.NoError(t, (<-emulated).err)
}

func TestCancelPublishes(t *testing.T) {
	mr := setupRedis(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, "subforge:render:cancel")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	res := runCLI(ctx, "", "cancel", "op-7")
	require.NoError(t, res.err)
	assert.Equal(t, "cancel requested for op-7\n", res.stdout)

	select {
	case msg := <-sub.Channel():
		assert.JSONEq(t, `{"operation_id":"op-7"}`, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("cancel not published")
	}
}

func TestRenderRequiresRedis(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("RENDERER_TRANSPORT", "redis")
	reqPath := writeTemp(t, "request.yaml", requestYAML)

	res := runCLI(context.Background(), "", "render", "-f", reqPath)
	assert.Error(t, res.err)
}

func TestCuesToSRT(t *testing.T) {
	assert.Equal(t, "00:00:00,000", srtTime(-1))
	assert.Equal(t, "01:02:03,457", srtTime(3723.4567))
}

func TestEmulatorForgetsStaleCancels(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	em := &emulator{
		now:       func() time.Time { return clock },
		cancelled: make(map[string]time.Time),
	}

	em.markCancelled(v1.CancelMessage{OperationID: "elsewhere"})
	assert.True(t, em.isCancelled("elsewhere"))

	clock = clock.Add(cancelTTL + time.Second)
	assert.False(t, em.isCancelled("elsewhere"), "expired cancels no longer apply")

	em.markCancelled(v1.CancelMessage{OperationID: "mine"})
	assert.Len(t, em.cancelled, 1, "expired entries are dropped")
	assert.True(t, em.isCancelled("mine"))
}

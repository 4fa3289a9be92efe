package cmd

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/locus/api/schemas"
	"github.com/xkilldash9x/locus/internal/config"
	"github.com/xkilldash9x/locus/internal/memory"
	"github.com/xkilldash9x/locus/internal/mocks"
	"github.com/xkilldash9x/locus/internal/observability"
	"github.com/xkilldash9x/locus/internal/service"
	"github.com/xkilldash9x/locus/internal/smart"
	"github.com/xkilldash9x/locus/internal/store"
)

// fakeFactory hands out pre-built components and records what was asked for.
type fakeFactory struct {
	comps *service.Components
	err   error
	calls []service.Options
}

func (f *fakeFactory) Create(ctx context.Context, cfg *config.Config, opts service.Options, logger *zap.Logger) (*service.Components, error) {
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return nil, f.err
	}
	return f.comps, nil
}

func run(t *testing.T, factory service.ComponentFactory, args ...string) (string, error) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	root := newRootCmd(factory)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, &fakeFactory{}, "version")
	require.NoError(t, err)
	assert.Equal(t, "locus version "+Version+"\n", out)
}

func TestMissingConfigFile(t *testing.T) {
	f := &fakeFactory{}
	_, err := run(t, f, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "patterns", "top", "-p", "shop")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
	assert.Empty(t, f.calls)
}

func TestPatternsTop(t *testing.T) {
	backend := store.NewInMemory()
	mem := memory.New(backend, nil, zaptest.NewLogger(t))
	for i := 0; i < 2; i++ {
		_, err := mem.Store(context.Background(), schemas.MemoryPattern{
			ProjectID:   "shop",
			ActionText:  "Click Submit",
			ActionType:  schemas.ActionClick,
			Selector:    "#submit",
			LocatorKind: schemas.LocatorID,
			URLPattern:  "shop.example.com",
			Confidence:  80,
		})
		require.NoError(t, err)
	}

	f := &fakeFactory{comps: &service.Components{Store: backend, Memory: mem}}
	out, err := run(t, f, "patterns", "top", "--project", "shop", "-n", "5")
	require.NoError(t, err)

	require.Len(t, f.calls, 1)
	assert.Equal(t, service.Options{ProjectID: "shop"}, f.calls[0], "maintenance never starts a browser")
	assert.Contains(t, out, "SUCCESS")
	assert.Contains(t, out, "shop.example.com")
	assert.Contains(t, out, "#submit")
	assert.Contains(t, out, "click submit")
}

func TestPatternsCleanup_UsesConfiguredDefaults(t *testing.T) {
	st := new(mocks.MockPatternStore)
	st.On("Cleanup", mock.Anything, "shop", 2, mock.AnythingOfType("time.Time")).Return(int64(3), nil).Once()
	f := &fakeFactory{comps: &service.Components{Memory: memory.New(st, nil, zaptest.NewLogger(t))}}

	out, err := run(t, f, "patterns", "cleanup", "-p", "shop")
	require.NoError(t, err)
	assert.Equal(t, "deleted 3 patterns\n", out)

	cutoff := st.Calls[0].Arguments.Get(3).(time.Time)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -30), cutoff, time.Minute)
	st.AssertExpectations(t)
}

func TestPatternsCleanup_FlagsOverrideDefaults(t *testing.T) {
	st := new(mocks.MockPatternStore)
	st.On("Cleanup", mock.Anything, "shop", 5, mock.AnythingOfType("time.Time")).Return(int64(0), nil).Once()
	f := &fakeFactory{comps: &service.Components{Memory: memory.New(st, nil, zaptest.NewLogger(t))}}

	_, err := run(t, f, "patterns", "cleanup", "-p", "shop", "--min-success", "5", "--max-age-days", "7")
	require.NoError(t, err)

	cutoff := st.Calls[0].Arguments.Get(3).(time.Time)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -7), cutoff, time.Minute)
}

func TestPatternsRequireProject(t *testing.T) {
	f := &fakeFactory{}
	_, err := run(t, f, "patterns", "top")
	assert.EqualError(t, err, "--project is required")
	assert.Empty(t, f.calls)
}

func TestDiscoverValidatesBeforeStartingComponents(t *testing.T) {
	dir := t.TempDir()
	scenario := filepath.Join(dir, "checkout.yaml")
	require.NoError(t, writeFile(scenario, "steps:\n  - Click Submit\n"))

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no project", []string{"discover", scenario}, "--project is required"},
		{"missing scenario", []string{"discover", "-p", "shop", filepath.Join(dir, "missing.yaml")}, "missing.yaml"},
		{"unsupported format", []string{"discover", "-p", "shop", "-f", "sarif", scenario}, "sarif"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFactory{}
			_, err := run(t, f, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Empty(t, f.calls)
		})
	}
}

func TestDiscoverFactoryFailure(t *testing.T) {
	scenario := filepath.Join(t.TempDir(), "login.yaml")
	require.NoError(t, writeFile(scenario, "steps:\n  - Click Login\n"))

	boom := errors.New("chrome not found")
	f := &fakeFactory{err: boom}
	_, err := run(t, f, "discover", "-p", "shop", "--no-ai", "-o", filepath.Join(t.TempDir(), "r.json"), scenario)
	assert.ErrorIs(t, err, boom)
	require.Len(t, f.calls, 1)
	assert.Equal(t, service.Options{ProjectID: "shop", Browser: true}, f.calls[0])
}

func TestActValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown verb", []string{"act", "hover", "--url", "https://x", "-t", "#a"}, "unknown action"},
		{"fill without value", []string{"act", "fill", "--url", "https://x", "-t", "#a"}, "fill needs --value"},
		{"missing target", []string{"act", "click", "--url", "https://x"}, "--url and --target are required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFactory{}
			_, err := run(t, f, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Empty(t, f.calls)
		})
	}
}

func TestPerformHonoursNoFallback(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(store.NewInMemory(), nil, zaptest.NewLogger(t))
	cached := schemas.Locator{Kind: schemas.LocatorID, Selector: `[id="buy"]`}
	_, err := mem.Store(ctx, schemas.MemoryPattern{
		ProjectID: "shop", ActionText: "click buy", ActionType: schemas.ActionClick,
		Selector: cached.Selector, LocatorKind: cached.Kind, URLPattern: "shop.example.com", Confidence: 80,
	})
	require.NoError(t, err)
	actor := smart.NewActor(smart.Dependencies{Memory: mem}, smart.Options{ProjectID: "shop"}, zaptest.NewLogger(t))

	newPage := func() *mocks.FakePage {
		page := &mocks.FakePage{CurrentURL: "https://shop.example.com/"}
		page.SetVisible(cached, true)
		return page
	}
	opts := actOptions{target: "#gone", description: "click buy"}

	page := newPage()
	out, err := perform(ctx, actor, page, "click", opts)
	require.NoError(t, err)
	assert.Equal(t, schemas.MethodMemoryCached, out.Method)

	opts.noFallback = true
	page = newPage()
	out, err = perform(ctx, actor, page, "click", opts)
	require.Error(t, err)
	assert.False(t, out.Success)
	assert.Empty(t, page.Actions())
}

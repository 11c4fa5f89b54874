package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coinid "github.com/menta2k/coin-id"
	"github.com/menta2k/coin-id/internal/session"
)

type cliEnv struct {
	dir    string
	dbPath string
}

func setupCLI(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	home := filepath.Join(dir, "home")
	require.NoError(t, os.MkdirAll(home, 0o755))
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Chdir(dir)
	for _, key := range []string{"COINID_BACKEND", "COINID_URL", "COINID_MODEL", "COINID_DB", "COINID_STORAGE", "COINID_PROMPT_FILE", "COINID_DEFAULT_SCALE"} {
		t.Setenv(key, "")
	}
	return &cliEnv{dir: dir, dbPath: filepath.Join(dir, "sessions.db")}
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--db", e.dbPath, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeCoinPhoto(t *testing.T, path string) {
	t.Helper()
	img := imaging.New(320, 320, color.NRGBA{40, 40, 40, 255})
	for y := 60; y < 260; y++ {
		for x := 60; x < 260; x++ {
			if (x-160)*(x-160)+(y-160)*(y-160) < 100*100 {
				img.SetNRGBA(x, y, color.NRGBA{200, 170, 90, 255})
			}
		}
	}
	require.NoError(t, imaging.Save(img, path))
}

func TestReferencesCommand(t *testing.T) {
	env := setupCLI(t)
	out, _, err := env.run(t, "references")
	require.NoError(t, err)
	assert.Contains(t, out, "eur1")
	assert.Contains(t, out, "25.75")
}

func TestCalibrateAndMeasure(t *testing.T) {
	env := setupCLI(t)

	out, _, err := env.run(t, "calibrate", "eur2", "--size", "320")
	require.NoError(t, err)
	assert.Contains(t, out, "Calibrated with 2 € (25.75 mm) at 320 px")

	out, _, err = env.run(t, "measure")
	require.NoError(t, err)
	assert.Equal(t, "Circle 320 px = 25.75 mm\n", out)

	out, _, err = env.run(t, "measure", "400", "--json")
	require.NoError(t, err)
	var m struct {
		CirclePx   int     `json:"circle_px"`
		DiameterMM float64 `json:"diameter_mm"`
		Calibrated bool    `json:"calibrated"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, 400, m.CirclePx)
	assert.InDelta(t, 400*25.75/320, m.DiameterMM, 1e-9)
	assert.True(t, m.Calibrated)

	out, _, err = env.run(t, "--session", "other", "measure")
	require.NoError(t, err)
	assert.Contains(t, out, "(uncalibrated)")

	_, _, err = env.run(t, "calibrate", "nickel")
	assert.ErrorContains(t, err, "unknown reference")

	out, _, err = env.run(t, "calibrate", "--reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Calibration reset")
}

func TestCalibrateWithScale(t *testing.T) {
	env := setupCLI(t)

	out, _, err := env.run(t, "calibrate", "--scale", "254")
	require.NoError(t, err)
	assert.Contains(t, out, "Scale set to 254.00 px per inch")
	assert.Contains(t, out, "Circle 300 px = 30.00 mm")

	out, _, err = env.run(t, "session", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "scale set directly")

	_, _, err = env.run(t, "calibrate", "--scale", "0")
	assert.ErrorContains(t, err, "invalid calibration input")

	_, _, err = env.run(t, "calibrate", "eur1", "--scale", "200")
	assert.ErrorContains(t, err, "not both")

	out, _, err = env.run(t, "calibrate", "24.25 mm", "--size", "300")
	require.NoError(t, err)
	assert.Contains(t, out, "Calibrated with 24.25 mm at 300 px")
}

func TestNewSessionUsesConfiguredScale(t *testing.T) {
	env := setupCLI(t)
	t.Setenv("COINID_DEFAULT_SCALE", "127")

	out, _, err := env.run(t, "measure", "250")
	require.NoError(t, err)
	assert.Equal(t, "Circle 250 px = 50.00 mm (uncalibrated)\n", out)

	_, _, err = env.run(t, "calibrate", "eur2", "--size", "320")
	require.NoError(t, err)
	out, _, err = env.run(t, "calibrate", "--reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Calibration reset")

	out, _, err = env.run(t, "measure")
	require.NoError(t, err)
	assert.Contains(t, out, "Circle 320 px = 64.00 mm (uncalibrated)", "reset returns to the configured scale")
}

func TestCircleCommand(t *testing.T) {
	env := setupCLI(t)
	path := filepath.Join(env.dir, "circle.png")

	out, _, err := env.run(t, "circle", "--size", "240", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, "circle 240 px")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 240+2*12, img.Bounds().Dx())
}

func TestConfigInitAndShow(t *testing.T) {
	env := setupCLI(t)
	path := filepath.Join(env.dir, "cfg", "config.json")

	out, _, err := env.run(t, "config", "init", "--path", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote default configuration")

	_, _, err = env.run(t, "config", "init", "--path", path)
	assert.ErrorContains(t, err, "already exists")

	out, _, err = env.run(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"backend": "ollama"`)

	out, _, err = env.run(t, "--config", path, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration valid")
}

func fakeLlamaServer(t *testing.T, answers ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		content := answers[n%len(answers)]
		resp := map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"role": "assistant", "content": content},
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestIdentifyCommand(t *testing.T) {
	env := setupCLI(t)
	srv, calls := fakeLlamaServer(t,
		"Here you go:\n```json\n{\"country\": \"Austria\", \"denomination\": \"1 Schilling\", \"year\": \"1959\", \"keywords\": \"aluminium\"}\n```",
		`{"country": "austria", "denomination": "1 schilling", "year": "1961"}`,
	)
	t.Setenv("COINID_BACKEND", "llamacpp")
	t.Setenv("COINID_URL", srv.URL)
	t.Setenv("COINID_MODEL", "gemma-3-4b")

	photo := filepath.Join(env.dir, "coin.png")
	writeCoinPhoto(t, photo)

	_, _, err := env.run(t, "calibrate", "eur1", "--size", "300")
	require.NoError(t, err)

	outDir := filepath.Join(env.dir, "out")
	out, _, err := env.run(t, "identify", photo, "--json", "--px", "310", "--out", outDir)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load(), "stops at the second agreeing answer")

	var report coinid.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Confirmed)
	assert.Equal(t, "Austria", report.Identification.Country)
	assert.Equal(t, "1959", report.Identification.Year, "the first agreeing answer wins")
	assert.Equal(t, 2, report.Result.AgreementCount)
	assert.Equal(t, 310, report.Measurement.CirclePx)
	assert.InDelta(t, 310*23.25/300, report.Measurement.DiameterMM, 1e-9)
	require.NotEmpty(t, report.Links)
	assert.Contains(t, report.Links[0].URL, "24.0mm")

	saved := filepath.Join(outDir, "coin_Austria_1_Schilling.jpg")
	assert.FileExists(t, saved)
	assert.FileExists(t, filepath.Join(outDir, "coin_Austria_1_Schilling.json"))

	repo, err := session.OpenSQLite(env.dbPath)
	require.NoError(t, err)
	sess, err := repo.Load(context.Background(), defaultSessionID)
	require.NoError(t, err)
	require.NoError(t, repo.Close())
	require.NotNil(t, sess.LastResult)
	assert.Equal(t, "Austria", sess.LastResult.Identification.Country)
	assert.Equal(t, 300, sess.Calibration.CircleSizePx, "--px does not move the session's circle")

	out, _, err = env.run(t, "session", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Last identification")
	assert.Contains(t, out, "Austria, 1 Schilling")

	out, _, err = env.run(t, "session", "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "ready for a new analysis")

	out, _, err = env.run(t, "session", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "No identification yet")
}

func TestIdentifyWithoutConsensus(t *testing.T) {
	env := setupCLI(t)
	srv, calls := fakeLlamaServer(t,
		`{"country": "Italy", "denomination": "100 Lire"}`,
		`{"country": "France", "denomination": "1 Franc"}`,
		`I cannot tell.`,
	)
	t.Setenv("COINID_BACKEND", "llamacpp")
	t.Setenv("COINID_URL", srv.URL)
	t.Setenv("COINID_MODEL", "gemma-3-4b")

	photo := filepath.Join(env.dir, "coin.png")
	writeCoinPhoto(t, photo)

	out, stderr, err := env.run(t, "identify", photo, "--mm", "27.8", "--attempts", "3", "--no-save")
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
	assert.Contains(t, out, "unconfirmed best guess (1 of 3 answers)")
	assert.Contains(t, out, "Italy, 100 Lire")
	assert.Contains(t, stderr, "attempt 3")
	assert.Contains(t, stderr, "failed:")

	out, _, err = env.run(t, "session", "list", "--json")
	require.NoError(t, err)
	var list []session.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Empty(t, list, "--no-save leaves the store empty")
}

func TestIdentifyWithoutAnyAnswer(t *testing.T) {
	env := setupCLI(t)
	srv, calls := fakeLlamaServer(t, "I cannot tell.")
	t.Setenv("COINID_BACKEND", "llamacpp")
	t.Setenv("COINID_URL", srv.URL)
	t.Setenv("COINID_MODEL", "gemma-3-4b")

	photo := filepath.Join(env.dir, "coin.png")
	writeCoinPhoto(t, photo)

	out, _, err := env.run(t, "identify", photo, "--attempts", "2", "--no-save")
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
	assert.Contains(t, out, "manual verification needed")
	assert.Contains(t, out, "Verify the coin manually")
}

func TestSessionCommands(t *testing.T) {
	env := setupCLI(t)

	_, _, err := env.run(t, "--session", "a", "calibrate", "eur1")
	require.NoError(t, err)
	_, _, err = env.run(t, "--session", "b", "measure", "250")
	require.NoError(t, err)

	out, _, err := env.run(t, "session", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "a")
	assert.Contains(t, out, "b")

	out, _, err = env.run(t, "session", "show", "a", "--json")
	require.NoError(t, err)
	var sess session.Session
	require.NoError(t, json.Unmarshal([]byte(out), &sess))
	assert.True(t, sess.Calibration.Calibrated)
	assert.Equal(t, "eur1", sess.Calibration.ReferenceKey)

	out, _, err = env.run(t, "session", "delete", "b")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted session b")

	_, _, err = env.run(t, "session", "delete", "b")
	assert.ErrorContains(t, err, "not found")

	_, _, err = env.run(t, "session", "show", "missing")
	assert.ErrorContains(t, err, "not found")
}

package logger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_WritesDailyFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	log, err := New(Options{Dir: dir})
	require.NoError(t, err)
	log.Info("hello", zap.String("tenant", "acme"))
	_ = log.Sync()

	name := filepath.Join(dir, time.Now().Format("2006-01-02")+".log")
	body, err := os.ReadFile(name)
	require.NoError(t, err)
	require.Contains(t, string(body), `"tenant":"acme"`)
	require.Contains(t, string(body), `"msg":"logger online"`)
}

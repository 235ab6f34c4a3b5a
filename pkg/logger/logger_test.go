package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestInitWritesToFileOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "igcli.log")
	require.NoError(t, Init(Config{Level: "debug", OutputFile: path}))
	t.Cleanup(func() { _ = Close() })

	Infof("hello %s", "file")
	logrus.WithField("module", "test").Debug("from global logrus")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(b)
	require.Contains(t, out, "hello file")
	require.Contains(t, out, "from global logrus")
	require.Contains(t, out, "module=test")
	// 文件中不应出现 ANSI 颜色码
	require.False(t, strings.Contains(out, "\x1b["), "file output must not be colored")
	require.Equal(t, path, GetCurrentLogFile())
}

func TestInitUnknownLevelFallsBackToInfo(t *testing.T) {
	require.NoError(t, Init(Config{Level: "chatty"}))
	require.Equal(t, logrus.InfoLevel, Logger.GetLevel())
	require.Equal(t, "", GetCurrentLogFile())
}

package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSandbox(t *testing.T, root string) *Sandbox {
	t.Helper()
	sb, err := New(Config{AllowedRoots: []string{root}, IncludeDefaultDenies: true})
	require.NoError(t, err)
	return sb
}

func TestResolvePath_AllowsFileUnderRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hi"), 0o644))
	sb := newTestSandbox(t, root)

	resolved, err := sb.ResolvePath("hello.txt", root)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "hello.txt"), resolved)
}

func TestResolvePath_RejectsEscapeOutsideRoot(t *testing.T) {
	root := t.TempDir()
	sb := newTestSandbox(t, root)

	_, err := sb.ResolvePath("../../etc/passwd", root)
	require.Error(t, err)
	var v *Violation
	require.ErrorAs(t, err, &v)
	require.Equal(t, ReasonNotUnderRoot, v.Reason)
}

func TestResolvePath_RejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("s"), 0o644))
	link := filepath.Join(root, "escape")
	require.NoError(t, os.Symlink(outside, link))
	sb := newTestSandbox(t, root)

	_, err := sb.ResolvePath("escape/secret.txt", root)
	require.Error(t, err)
	var v *Violation
	require.ErrorAs(t, err, &v)
	require.Equal(t, ReasonNotUnderRoot, v.Reason)
}

func TestResolvePath_RejectsDenylistedName(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".ssh"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".ssh", "id_rsa"), []byte("k"), 0o600))
	sb := newTestSandbox(t, root)

	_, err := sb.ResolvePath(".ssh/id_rsa", root)
	require.Error(t, err)
	var v *Violation
	require.ErrorAs(t, err, &v)
	require.Equal(t, ReasonDenylisted, v.Reason)
}

func TestResolvePath_AbsoluteDeniedByDefault(t *testing.T) {
	root := t.TempDir()
	sb := newTestSandbox(t, root)

	_, err := sb.ResolvePath("/etc/passwd", root)
	require.Error(t, err)
	var v *Violation
	require.ErrorAs(t, err, &v)
	require.Equal(t, ReasonAbsoluteDenied, v.Reason)
}

func TestResolvePathForCreate_AllowsNewFile(t *testing.T) {
	root := t.TempDir()
	sb := newTestSandbox(t, root)

	resolved, err := sb.ResolvePathForCreate("new.txt", root)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "new.txt"), resolved)
}

func TestResolvePathForCreate_RejectsParentOutsideRoot(t *testing.T) {
	root := t.TempDir()
	sb := newTestSandbox(t, root)

	_, err := sb.ResolvePathForCreate("../new.txt", root)
	require.Error(t, err)
}

func TestEnsurePathAllowed(t *testing.T) {
	root := t.TempDir()
	sb := newTestSandbox(t, root)

	require.NoError(t, sb.EnsurePathAllowed(filepath.Join(root, "anything.txt")))
	require.Error(t, sb.EnsurePathAllowed("/etc/shadow"))
}

func TestEnvSanitizer_StripsSecretsByPattern(t *testing.T) {
	s, err := NewEnvSanitizer(nil, true)
	require.NoError(t, err)

	in := []string{
		"PATH=/usr/bin",
		"ANTHROPIC_API_KEY=sk-ant-secret",
		"OPENAI_API_KEY=sk-openai-secret",
		"MY_APP_SECRET=hunter2",
		"HOME=/home/user",
	}
	out := s.SanitizeEnv(in)
	require.Contains(t, out, "PATH=/usr/bin")
	require.Contains(t, out, "HOME=/home/user")
	require.NotContains(t, out, "ANTHROPIC_API_KEY=sk-ant-secret")
	require.NotContains(t, out, "OPENAI_API_KEY=sk-openai-secret")
	require.NotContains(t, out, "MY_APP_SECRET=hunter2")
}

func TestEnvSanitizer_CustomPattern(t *testing.T) {
	s, err := NewEnvSanitizer([]string{"CUSTOM_*"}, false)
	require.NoError(t, err)

	out := s.SanitizeEnv([]string{"CUSTOM_TOKEN=x", "KEEP_ME=y"})
	require.Equal(t, []string{"KEEP_ME=y"}, out)
}

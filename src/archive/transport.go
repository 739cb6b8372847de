package archive

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Transport writes artifact streams into an archive. Start is called once
// before the first Archive and End once after the last, whatever the
// outcome in between.
type Transport interface {
	Start() error
	// Archive streams r to the given archive-relative destination, creating
	// intermediate directories as needed.
	Archive(r io.Reader, dest string) error
	End() error
}

// LocalTransport archives into a directory on the local filesystem.
type LocalTransport struct {
	Root string
}

func (t *LocalTransport) Start() error { return nil }

func (t *LocalTransport) End() error { return nil }

func (t *LocalTransport) Archive(r io.Reader, dest string) error {
	target := filepath.Join(t.Root, filepath.FromSlash(dest))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return nil
}

// SSHTransport archives to a remote host over SFTP.
type SSHTransport struct {
	Addr   string
	Root   string
	Config *ssh.ClientConfig

	conn   *ssh.Client
	client *sftp.Client
}

func (t *SSHTransport) Start() error {
	conn, err := ssh.Dial("tcp", t.Addr, t.Config)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", t.Addr, err)
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open sftp session: %w", err)
	}
	t.conn = conn
	t.client = client
	return nil
}

func (t *SSHTransport) End() error {
	if t.client != nil {
		t.client.Close()
		t.client = nil
	}
	if t.conn != nil {
		err := t.conn.Close()
		t.conn = nil
		return err
	}
	return nil
}

func (t *SSHTransport) Archive(r io.Reader, dest string) error {
	if t.client == nil {
		return fmt.Errorf("transport not started")
	}
	target := path.Join(t.Root, dest)
	if err := t.client.MkdirAll(path.Dir(target)); err != nil {
		return fmt.Errorf("failed to create remote directory: %w", err)
	}
	f, err := t.client.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return nil
}

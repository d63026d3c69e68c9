package automation

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jeeftor/vmcap/internal/logging"
	"golang.org/x/crypto/ssh"
)

// DefaultLogin is the account every image is set up with.
const DefaultLogin = "containerhost"

// CredentialInstaller authorizes a public key on a guest by logging in with
// the account password.
type CredentialInstaller struct {
	User     string
	Password string
	Port     int
	// RetryInterval separates connection attempts while sshd comes up.
	RetryInterval time.Duration
}

// NewCredentialInstaller uses the default account on port 22.
func NewCredentialInstaller() *CredentialInstaller {
	return &CredentialInstaller{
		User:          DefaultLogin,
		Password:      DefaultLogin,
		Port:          22,
		RetryInterval: 2 * time.Second,
	}
}

// AuthorizedKeysCommand replaces ~/.ssh/authorized_keys with publicKey.
func AuthorizedKeysCommand(publicKey string) string {
	key := strings.TrimSpace(publicKey)
	return "mkdir -p ~/.ssh && echo '" + strings.ReplaceAll(key, "'", `'\''`) + "' > ~/.ssh/authorized_keys"
}

func (c *CredentialInstaller) config() *ssh.ClientConfig {
	password := c.Password
	return &ssh.ClientConfig{
		User: c.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		// Guests are freshly created and reached over the host-only network.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}
}

func (c *CredentialInstaller) dial(ctx context.Context, addr string) (*ssh.Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sc, chans, reqs, err := ssh.NewClientConn(conn, addr, c.config())
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(sc, chans, reqs), nil
}

// Install logs into ip and writes publicKey to authorized_keys. Connection
// failures are retried until ctx is done.
func (c *CredentialInstaller) Install(ctx context.Context, ip, publicKey string) error {
	addr := net.JoinHostPort(ip, fmt.Sprint(c.Port))
	logging.Debug("Installing ssh credentials", "addr", addr, "user", c.User)

	var client *ssh.Client
	for {
		var err error
		client, err = c.dial(ctx, addr)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("failed to connect to %s: %w", addr, ctx.Err())
		}
		logging.Debug("SSH not ready", "addr", addr, "error", err)
		if c.RetryInterval <= 0 {
			return fmt.Errorf("failed to connect to %s: %w", addr, err)
		}
		if err := sleep(ctx, c.RetryInterval); err != nil {
			return err
		}
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	if out, err := session.CombinedOutput(AuthorizedKeysCommand(publicKey)); err != nil {
		return fmt.Errorf("failed to install authorized key: %w: %s", err, strings.TrimSpace(string(out)))
	}
	logging.Debug("SSH credentials installed", "addr", addr)
	return nil
}

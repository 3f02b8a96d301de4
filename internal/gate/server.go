// Package gate runs an optional local SOCKS5 listener that tunnels arbitrary
// TCP connections through a provider's managed proxy pool. External tools get
// the same egress rotation and health scoring as the engine's own fetches.
package gate

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/txthinking/socks5"
	"golang.org/x/net/proxy"

	"github.com/sadewadee/source-orchestrator/internal/domain"
	"github.com/sadewadee/source-orchestrator/internal/logging"
	"github.com/sadewadee/source-orchestrator/internal/proxypool"
)

// Protocol bytes not exported by the socks5 library
const (
	socksVersion = 0x05
	methodNoAuth = 0x00
	cmdConnect   = 0x01
)

// dialRetries is how many pool endpoints are tried per connection
const dialRetries = 3

// connectTimeout bounds the TCP dial to an upstream proxy
const connectTimeout = 10 * time.Second

// Server is a SOCKS5 listener drawing egress endpoints from one provider's
// pool. Every dial outcome feeds back into that pool's health scoring.
type Server struct {
	addr       string
	providerID string
	pools      *proxypool.Manager
	log        zerolog.Logger
}

// NewServer creates a gate listening on addr, tunnelling through the named
// provider's pool
func NewServer(addr, providerID string, pools *proxypool.Manager) *Server {
	return &Server{
		addr:       addr,
		providerID: providerID,
		pools:      pools,
		log:        logging.WithComponent("gate"),
	}
}

// Run accepts connections until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	s.log.Info().
		Str("addr", s.addr).
		Str("provider", s.providerID).
		Msg("socks5 gate listening")

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Warn().Err(err).Msg("accept failed")
				continue
			}
		}

		go func(c net.Conn) {
			defer c.Close()
			if err := s.handleConnection(c); err != nil {
				s.log.Debug().Err(err).Msg("connection closed")
			}
		}(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) error {
	if err := s.handshake(conn); err != nil {
		return err
	}

	address, ok, err := s.readRequest(conn)
	if err != nil {
		return err
	}
	if !ok {
		// Reply for the unsupported command was already written
		return nil
	}

	target, err := s.dialThroughPool(address)
	if err != nil {
		rep := socks5.RepHostUnreachable
		if errors.Is(err, proxypool.ErrNoProxy) {
			rep = socks5.RepServerFailure
		}
		conn.Write([]byte{socksVersion, rep, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		return nil
	}
	defer target.Close()

	conn.Write([]byte{socksVersion, socks5.RepSuccess, 0x00, 0x01, 0, 0, 0, 0, 0, 0})

	// Bi-directional copy
	go func() {
		io.Copy(target, conn)
	}()
	io.Copy(conn, target)

	return nil
}

// handshake negotiates the method selection. Only NoAuth is offered.
func (s *Server) handshake(conn net.Conn) error {
	buf := make([]byte, 257)
	if _, err := io.ReadAtLeast(conn, buf, 2); err != nil {
		return err
	}
	if buf[0] != socksVersion {
		return fmt.Errorf("unsupported version: %d", buf[0])
	}

	nMethods := int(buf[1])
	if _, err := io.ReadAtLeast(conn, buf, nMethods); err != nil {
		return err
	}

	_, err := conn.Write([]byte{socksVersion, methodNoAuth})
	return err
}

// readRequest parses the CONNECT request and returns the target host:port.
// ok is false when the command is unsupported and a reply was already sent.
//
//	+----+-----+-------+------+----------+----------+
//	|VER | CMD |  RSV  | ATYP | DST.ADDR | DST.PORT |
//	+----+-----+-------+------+----------+----------+
//	| 1  |  1  | X'00' |  1   | Variable |    2     |
//	+----+-----+-------+------+----------+----------+
func (s *Server) readRequest(conn net.Conn) (string, bool, error) {
	header := make([]byte, 4)
	if _, err := io.ReadAtLeast(conn, header, 4); err != nil {
		return "", false, err
	}
	if header[0] != socksVersion {
		return "", false, fmt.Errorf("unsupported version: %d", header[0])
	}

	cmd := header[1]
	atyp := header[3]

	var dstAddr string

	switch atyp {
	case socks5.ATYPIPv4:
		ip := make([]byte, 4)
		if _, err := io.ReadAtLeast(conn, ip, 4); err != nil {
			return "", false, err
		}
		dstAddr = net.IP(ip).String()
	case socks5.ATYPDomain:
		lenBuf := make([]byte, 1)
		if _, err := io.ReadAtLeast(conn, lenBuf, 1); err != nil {
			return "", false, err
		}
		name := make([]byte, int(lenBuf[0]))
		if _, err := io.ReadAtLeast(conn, name, len(name)); err != nil {
			return "", false, err
		}
		dstAddr = string(name)
	case socks5.ATYPIPv6:
		ip := make([]byte, 16)
		if _, err := io.ReadAtLeast(conn, ip, 16); err != nil {
			return "", false, err
		}
		dstAddr = net.IP(ip).String()
	default:
		return "", false, fmt.Errorf("unsupported address type: %d", atyp)
	}

	portBuf := make([]byte, 2)
	if _, err := io.ReadAtLeast(conn, portBuf, 2); err != nil {
		return "", false, err
	}
	port := int(portBuf[0])<<8 | int(portBuf[1])

	if cmd != cmdConnect {
		conn.Write([]byte{socksVersion, socks5.RepCommandNotSupported, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		return "", false, nil
	}

	return fmt.Sprintf("%s:%d", dstAddr, port), true, nil
}

// dialThroughPool tries up to dialRetries endpoints, recording each outcome
// so failing proxies lose score and eventually deactivate
func (s *Server) dialThroughPool(address string) (net.Conn, error) {
	var lastErr error

	for i := 0; i < dialRetries; i++ {
		endpoint, err := s.pools.Select(s.providerID)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		target, dialErr := dialUpstream(endpoint, address)
		s.pools.RecordUsage(context.Background(), s.providerID, endpoint.ID, dialErr == nil, time.Since(start))

		if dialErr == nil {
			return target, nil
		}
		lastErr = dialErr
	}

	return nil, lastErr
}

// dialUpstream opens a tunnel to targetAddr through the given endpoint
func dialUpstream(endpoint *domain.ProxyEndpoint, targetAddr string) (net.Conn, error) {
	switch endpoint.Scheme {
	case "socks5", "":
		var auth *proxy.Auth
		if endpoint.Username != "" {
			auth = &proxy.Auth{
				User:     endpoint.Username,
				Password: endpoint.Password,
			}
		}

		dialer, err := proxy.SOCKS5("tcp", endpoint.Addr(), auth, proxy.Direct)
		if err != nil {
			return nil, err
		}
		return dialer.Dial("tcp", targetAddr)
	case "http", "https":
		return dialConnect(endpoint, targetAddr)
	default:
		return nil, fmt.Errorf("unsupported upstream scheme %q", endpoint.Scheme)
	}
}

// dialConnect opens an HTTP CONNECT tunnel through the endpoint
func dialConnect(endpoint *domain.ProxyEndpoint, targetAddr string) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", endpoint.Addr(), connectTimeout)
	if err != nil {
		return nil, err
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: targetAddr},
		Host:   targetAddr,
		Header: make(http.Header),
	}
	if endpoint.Username != "" {
		basic := base64.StdEncoding.EncodeToString([]byte(endpoint.Username + ":" + endpoint.Password))
		req.Header.Set("Proxy-Authorization", "Basic "+basic)
	}

	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, err
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("proxy CONNECT returned %s", resp.Status)
	}

	return conn, nil
}

// Command emberd is a minimal example host: it builds a daemon.Daemon,
// registers a handler that dispatches on path, and serves until
// interrupted.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/yourusername/ember/pkg/ember/conn"
	"github.com/yourusername/ember/pkg/ember/daemon"
	"github.com/yourusername/ember/pkg/ember/dispatch"
	"github.com/yourusername/ember/pkg/ember/logx"
	"github.com/yourusername/ember/pkg/ember/proto"
)

func jsonResponse(status int, body string) conn.Action {
	resp := proto.FromBuffer(status, []byte(body))
	resp.AddHeader([]byte("Content-Type"), []byte("application/json"))
	return conn.QueueResponse(resp)
}

// streamGreeting serves a small, negotiated-gzip-compressible body through
// a BodyCallback source, the shape GzipBody wraps.
func streamGreeting() *proto.Response {
	lines := []string{"hello, ", "ember, ", "streaming ", "over gzip\n"}
	i := 0
	return proto.FromCallback(200, -1, 64, func(buf []byte) (int, error) {
		if i >= len(lines) {
			return 0, nil
		}
		n := copy(buf, lines[i])
		i++
		return n, nil
	})
}

func handle(r *proto.Request, body []byte, moreBody bool) conn.Action {
	if moreBody {
		// A GET/health endpoint app never needs the body; draining it here
		// just keeps the FSM moving toward the final handler call.
		return conn.Continue()
	}

	switch r.Path() {
	case "/":
		return jsonResponse(200, `{"message":"Hello, ember!"}`)
	case "/health":
		return jsonResponse(200, `{"status":"healthy"}`)
	case "/stream":
		return conn.QueueResponse(proto.GzipBody(r, streamGreeting()))
	default:
		return jsonResponse(404, `{"error":"not found"}`)
	}
}

func main() {
	cfg := daemon.DefaultConfig()
	cfg.Addr = ":8080"
	cfg.Handler = handle
	cfg.Mode = dispatch.ModeThreadPerConnection
	cfg.Logger = logx.NewHCLog("emberd")

	d, err := daemon.New(cfg)
	if err != nil {
		log.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(); err != nil {
		log.Fatalf("Start: %v", err)
	}

	log.Printf("emberd listening on %s", d.Listener().Addr())
	log.Println("Try:")
	log.Println("  curl http://localhost:8080/")
	log.Println("  curl http://localhost:8080/health")
	log.Println("  curl --compressed http://localhost:8080/stream")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Println("shutting down")
	if err := d.Stop(context.Background()); err != nil {
		log.Fatalf("Stop: %v", err)
	}
}

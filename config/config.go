package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type (
	URIRequestLineSize struct {
		Maximal int `env:"MAXIMAL"`
	}

	HeadersNumber struct {
		Default int `env:"DEFAULT"`
		Maximal int `env:"MAXIMAL"`
	}

	HeadersLineSize struct {
		Maximal int `env:"MAXIMAL"`
	}

	NETWriteBufferSize struct {
		Default int `env:"DEFAULT"`
	}
)

type (
	URI struct {
		// RequestLineSize limits the length of the request line, including the method
		// and the protocol tokens. Longer lines are rejected with 414.
		RequestLineSize URIRequestLineSize `envPrefix:"REQUEST_LINE_SIZE_"`
	}

	Headers struct {
		// Number is responsible for the headers list size. Default is the preallocated
		// capacity, Maximal is the maximal number of header lines a request may carry.
		Number HeadersNumber `envPrefix:"NUMBER_"`
		// LineSize limits a single header line, including the key and the separator.
		LineSize HeadersLineSize `envPrefix:"LINE_SIZE_"`
	}

	Body struct {
		// MaxSize is the biggest Content-Length value accepted. Requests declaring more
		// are rejected before any byte of the body is read.
		MaxSize int64 `env:"MAX_SIZE"`
	}

	NET struct {
		// ReadBufferSize is the size of the buffer used to read from the socket.
		ReadBufferSize int `env:"READ_BUFFER_SIZE"`
		// ReadTimeout controls the maximal lifetime of IDLE connections. If no data was
		// received in this period of time, the read fails and the connection is closed.
		// Zero disables the deadline.
		ReadTimeout time.Duration `env:"READ_TIMEOUT"`
		// AcceptLoopInterruptPeriod controls how often the Accept() call is interrupted
		// in order to check whether it's time to stop.
		AcceptLoopInterruptPeriod time.Duration `env:"ACCEPT_LOOP_INTERRUPT_PERIOD"`
		// WriteBufferSize is the initial capacity of the outbound buffer. It is drained
		// on every flush.
		WriteBufferSize NETWriteBufferSize `envPrefix:"WRITE_BUFFER_SIZE_"`
	}

	WebSocket struct {
		// MaxPayloadSize limits both a single frame payload and a reassembled
		// fragmented message.
		MaxPayloadSize uint64 `env:"MAX_PAYLOAD_SIZE"`
	}

	Metrics struct {
		Namespace string `env:"NAMESPACE"`
	}
)

// Config holds limitations and pre-allocations used across the gateway.
//
// Always start from Default() and modify it. Zero values are not meaningful defaults
// and most likely result in every request being rejected.
type Config struct {
	URI       URI       `envPrefix:"URI_"`
	Headers   Headers   `envPrefix:"HEADERS_"`
	Body      Body      `envPrefix:"BODY_"`
	NET       NET       `envPrefix:"NET_"`
	WebSocket WebSocket `envPrefix:"WEBSOCKET_"`
	Metrics   Metrics   `envPrefix:"METRICS_"`
}

// Default returns default config.
func Default() *Config {
	return &Config{
		URI: URI{
			RequestLineSize: URIRequestLineSize{
				// most web-entities limit it to 4-8kb, so 16kb is pretty tolerant.
				Maximal: 16 * 1024,
			},
		},
		Headers: Headers{
			Number: HeadersNumber{
				Default: 10,
				Maximal: 100,
			},
			LineSize: HeadersLineSize{
				// there might be extremely long cookies.
				Maximal: 16 * 1024,
			},
		},
		Body: Body{
			MaxSize: 512 * 1024 * 1024,
		},
		NET: NET{
			ReadBufferSize:            4 * 1024,
			ReadTimeout:               90 * time.Second,
			AcceptLoopInterruptPeriod: 5 * time.Second,
			WriteBufferSize: NETWriteBufferSize{
				Default: 2 * 1024,
			},
		},
		WebSocket: WebSocket{
			MaxPayloadSize: 16 * 1024 * 1024,
		},
		Metrics: Metrics{
			Namespace: "gate",
		},
	}
}

// FromEnv returns the default config with every field overridden by its environment
// variable, if set. Variable names are the envPrefix chain joined with the field's tag,
// e.g. GATE_NET_READ_TIMEOUT=30s for the prefix "GATE_".
func FromEnv(prefix string) (*Config, error) {
	cfg := Default()
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: prefix}); err != nil {
		return nil, err
	}

	return cfg, nil
}

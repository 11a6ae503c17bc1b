package pool

import (
	"fmt"
	"net"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	rlerrors "github.com/mirkobrombin/go-redlock/v1/errors"
)

const (
	defaultHost = "localhost"
	defaultPort = 6379
)

// StoreConfig describes one store of a pool. The variants are URL, Params
// and Handle.
type StoreConfig interface {
	open(o *options) (Store, string, error)
}

// URL configures a Redis store from a redis://, rediss:// or unix:// URL.
type URL string

func (u URL) open(o *options) (Store, string, error) {
	opt, err := redis.ParseURL(string(u))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", rlerrors.ErrInvalidConfig, err)
	}
	o.tune(opt)
	return NewRedisStore(redis.NewClient(opt)), opt.Addr, nil
}

// Params configures a Redis store from connection parameters. Zero Host and
// Port mean localhost:6379.
type Params struct {
	Host     string
	Port     int
	DB       int
	Username string
	Password string
}

func (p Params) open(o *options) (Store, string, error) {
	host := p.Host
	if host == "" {
		host = defaultHost
	}
	port := p.Port
	if port == 0 {
		port = defaultPort
	}
	if port < 0 || port > 65535 {
		return nil, "", fmt.Errorf("%w: port %d out of range", rlerrors.ErrInvalidConfig, p.Port)
	}
	if p.DB < 0 {
		return nil, "", fmt.Errorf("%w: negative db %d", rlerrors.ErrInvalidConfig, p.DB)
	}
	opt := &redis.Options{
		Addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		DB:       p.DB,
		Username: p.Username,
		Password: p.Password,
	}
	o.tune(opt)
	return NewRedisStore(redis.NewClient(opt)), opt.Addr, nil
}

// Handle wraps an already built store.
type Handle struct {
	Store Store
	// Name identifies the store in logs and errors.
	Name string
}

func (h Handle) open(*options) (Store, string, error) {
	if h.Store == nil {
		return nil, "", fmt.Errorf("%w: nil store handle", rlerrors.ErrInvalidConfig)
	}
	name := h.Name
	if name == "" {
		name = fmt.Sprintf("%T", h.Store)
	}
	return h.Store, name, nil
}

// Client wraps a prebuilt go-redis client. The pool takes ownership of it.
func Client(c redis.UniversalClient) Handle {
	name := "redis"
	if rc, ok := c.(*redis.Client); ok {
		name = rc.Options().Addr
	}
	return Handle{Store: NewRedisStore(c), Name: name}
}

// tune bounds the client so a dead instance fails within the op timeout
// instead of going through go-redis' own retry loop.
func (o *options) tune(opt *redis.Options) {
	opt.MaxRetries = -1
	opt.ContextTimeoutEnabled = true
	if opt.DialTimeout == 0 || opt.DialTimeout > o.connectTimeout {
		opt.DialTimeout = o.connectTimeout
	}
	rw := o.opTimeout
	if rw < time.Millisecond {
		rw = time.Millisecond
	}
	opt.ReadTimeout = rw
	opt.WriteTimeout = rw
}

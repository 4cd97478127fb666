package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hunyxv/zresource"
	"github.com/hunyxv/zresource/client"
	"github.com/hunyxv/zresource/discovery"
	"github.com/hunyxv/zresource/transport/ws"
	"github.com/hunyxv/zresource/transport/zmq"
	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

// Options contains the flag options
type Options struct {
	LogLevel string `long:"log-level" description:"Log level (debug|info|warn|error)." default:"info"`

	Serve struct {
		Bind      string        `long:"bind" description:"Address and port to listen on." default:"0.0.0.0:8080"`
		Flat      bool          `long:"flat" description:"Expose creature on the root channel with the creature:: prefix."`
		Heartbeat time.Duration `long:"heartbeat" description:"Heartbeat broadcast interval, 0 disables it." default:"10s"`
		Etcd      []string      `long:"etcd" description:"Etcd endpoint to announce the node on (repeatable)."`
		Consul    string        `long:"consul" description:"Consul agent address to announce the node on."`
		Zookeeper []string      `long:"zookeeper" description:"Zookeeper server to announce the node on (repeatable)."`
		Prefix    string        `long:"prefix" description:"Registry key prefix." default:"/zresource"`
		Zmq       string        `long:"zmq" description:"Also accept ZeroMQ DEALER peers on this endpoint, e.g. tcp://*:10080."`
	} `command:"serve" description:"Expose the creature resource over websocket."`

	Call struct {
		URL     string        `long:"url" description:"Server websocket URL." default:"ws://127.0.0.1:8080/"`
		Flat    bool          `long:"flat" description:"Use the flat creature resource."`
		Zmq     string        `long:"zmq" description:"Dial this ZeroMQ ROUTER endpoint instead of the websocket URL."`
		Etcd    []string      `long:"etcd" description:"Resolve the server through etcd instead of --url (repeatable)."`
		Consul  string        `long:"consul" description:"Resolve the server through a Consul agent instead of --url."`
		Zk      []string      `long:"zookeeper" description:"Resolve the server through zookeeper instead of --url (repeatable)."`
		Prefix  string        `long:"prefix" description:"Registry key prefix." default:"/zresource"`
		Timeout time.Duration `long:"timeout" description:"Call timeout." default:"5s"`
		Args    struct {
			Method string   `positional-arg-name:"method" description:"Method to call (fetch|message)." required:"yes"`
			Params []string `positional-arg-name:"params"`
		} `positional-args:"yes"`
	} `command:"call" description:"Call a creature method and print the reply."`
}

func main() {
	options := Options{}
	parser := flags.NewParser(&options, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagErr, ok := err.(*flags.Error); ok && flagErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}

	logger := zresource.NewLogger(options.LogLevel)
	var err error
	switch parser.Active.Name {
	case "serve":
		err = serve(options, logger)
	case "call":
		err = call(options, logger)
	}
	if err != nil {
		exit(2, "%s failed: %+v\n", parser.Active.Name, err)
	}
}

func serve(options Options, logger zresource.Logger) error {
	srv, err := zresource.NewServer(zresource.WithLogger(logger))
	if err != nil {
		return err
	}
	creature, err := srv.Register("creature", NewCreature(logger), zresource.Multiplexed(!options.Serve.Flat))
	if err != nil {
		return err
	}

	l := ws.NewListener(options.Serve.Bind)
	httpSrv := &http.Server{Addr: options.Serve.Bind, Handler: l}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("creature|http|%v", err)
		}
	}()
	go srv.Serve(l)

	if options.Serve.Zmq != "" {
		zl, err := zmq.Listen(options.Serve.Zmq, logger)
		if err != nil {
			return err
		}
		go srv.Serve(zl)
		logger.Infof("creature|listening on %s", options.Serve.Zmq)
	}

	if options.Serve.Heartbeat > 0 {
		go heartbeat(creature, options.Serve.Heartbeat, logger)
	}

	register, err := announce(options, srv, logger)
	if err != nil {
		return err
	}
	if register != nil {
		go register.Register()
		defer register.Deregister()
	}

	logger.Infof("creature|listening on ws://%s", options.Serve.Bind)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpSrv.Shutdown(ctx)
	return srv.Close()
}

func heartbeat(creature *zresource.Resource, interval time.Duration, logger zresource.Logger) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for now := range tick.C {
		if err := creature.Broadcast("heartbeat", now.Unix()); err != nil {
			logger.Warnf("creature|heartbeat|%v", err)
		}
	}
}

func announce(options Options, srv *zresource.Server, logger zresource.Logger) (discovery.ServiceRegister, error) {
	if len(options.Serve.Etcd) == 0 && options.Serve.Consul == "" && len(options.Serve.Zookeeper) == 0 {
		return nil, nil
	}
	endpoint, err := discovery.ParseEndpoint("ws://" + options.Serve.Bind)
	if err != nil {
		return nil, err
	}
	cnf := &discovery.RegisterConfig{
		ServicePrefix: options.Serve.Prefix,
		ServerInfo:    discovery.NewNode("creature", endpoint, srv.Registry()),
		Logger:        logger,
	}
	if len(options.Serve.Etcd) > 0 {
		cnf.Registries = options.Serve.Etcd
		return discovery.NewEtcdRegister(cnf)
	}
	if len(options.Serve.Zookeeper) > 0 {
		cnf.Registries = options.Serve.Zookeeper
		return discovery.NewZookeeperRegister(cnf)
	}
	cnf.Registries = []string{options.Serve.Consul}
	return discovery.NewConsulRegister(cnf)
}

func call(options Options, logger zresource.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), options.Call.Timeout)
	defer cancel()

	copts := []client.Option{client.WithLogger(logger), client.WithTimeout(options.Call.Timeout)}
	var sock *client.Socket
	if options.Call.Zmq != "" {
		conn, err := zmq.Dial(options.Call.Zmq, logger)
		if err != nil {
			return err
		}
		sock = client.NewSocket(conn, copts...)
	} else {
		url, err := resolve(ctx, options, logger)
		if err != nil {
			return err
		}
		sock, err = client.Dial(ctx, url, copts...)
		if err != nil {
			return err
		}
	}
	defer sock.Close()

	creature := sock.Resource("creature", !options.Call.Flat)
	if err := sock.Open(); err != nil {
		return err
	}
	if err := creature.WaitReady(ctx); err != nil {
		return errors.Wrap(err, "waiting for handshake")
	}

	params := make([]interface{}, 0, len(options.Call.Args.Params))
	for _, p := range options.Call.Args.Params {
		params = append(params, p)
	}
	v, err := creature.Call(ctx, options.Call.Args.Method, params...)
	if err != nil {
		return err
	}
	reply, err := v.Interface()
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}

// resolve 通过注册中心找到提供 creature 的节点，未配置注册中心时使用 --url
func resolve(ctx context.Context, options Options, logger zresource.Logger) (string, error) {
	cnf := &discovery.DiscoverConfig{
		ServicePrefix: options.Call.Prefix,
		ServiceName:   "creature",
		Logger:        logger,
	}
	var (
		discover discovery.ServiceDiscover
		err      error
	)
	switch {
	case len(options.Call.Etcd) > 0:
		cnf.Registries = options.Call.Etcd
		discover, err = discovery.NewEtcdDiscover(cnf)
	case options.Call.Consul != "":
		cnf.Registries = []string{options.Call.Consul}
		discover, err = discovery.NewConsulDiscover(cnf)
	case len(options.Call.Zk) > 0:
		cnf.Registries = options.Call.Zk
		discover, err = discovery.NewZookeeperDiscover(cnf)
	default:
		return options.Call.URL, nil
	}
	if err != nil {
		return "", err
	}
	defer discover.Stop()

	nodes := discovery.NewNodes()
	go discover.Watch(nodes)

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		if found := nodes.Lookup("creature"); len(found) > 0 {
			return found[0].Endpoint.String(), nil
		}
		select {
		case <-ctx.Done():
			return "", errors.Wrap(ctx.Err(), "no node provides creature")
		case <-tick.C:
		}
	}
}

func exit(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(code)
}

package main

import (
	"context"
	"net"
	"strconv"

	"github.com/fansqz/debug-session/config"
	"github.com/fansqz/debug-session/session"
	"github.com/sirupsen/logrus"
)

// serve accepts exactly one client on host:port and runs its session until
// the client goes away. It returns the process exit code.
func serve(ctx context.Context, cfg *config.Config, port int) int {
	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(port))
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		logrus.Errorf("[Server] listen %s fail, err = %v", addr, err)
		return 1
	}
	logrus.Infof("[Server] started listening at: %s", listener.Addr().String())

	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	conn, err := listener.Accept()
	stop()
	// 只服务一个客户端
	_ = listener.Close()
	if err != nil {
		logrus.Errorf("[Server] accept fail, err = %v", err)
		return 1
	}

	opts := cfg.SessionOptions()
	s, err := session.New(conn, conn.RemoteAddr().String(), opts)
	if err != nil {
		logrus.Errorf("[Server] create session fail, err = %v", err)
		_ = conn.Close()
		return 1
	}
	if err = s.Run(ctx); err != nil {
		logrus.Warnf("[Server] session %s ended with error: %v", s.ID(), err)
	}
	return 0
}

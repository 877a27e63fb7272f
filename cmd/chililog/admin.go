package main

import (
	"context"
	"time"

	"github.com/zhikook/chililog-server/natsclient"
)

// withNATS runs fn with a connected client and closes it afterwards
func (a *app) withNATS(ctx context.Context, fn func(*natsclient.Client) error) error {
	client, err := connectNATS(ctx, a.config, a.logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Close(closeCtx)
	}()
	return fn(client)
}

// Command storage-init provisions the Azure table and queue used by the
// table storage backend and the queue notifier.
package main

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"taskboard/config"
)

const queueAlreadyExists = "QueueAlreadyExists"

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if cfg.Table.ConnectionString == "" {
		log.Fatal("missing TASKBOARD_TABLE_CONNECTION_STRING")
	}
	log.Info("storage init starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := createTable(ctx, cfg.Table.ConnectionString, cfg.Table.Name); err != nil {
		log.Fatalf("create table %s: %v", cfg.Table.Name, err)
	}
	if cfg.Notify.Queue != "" {
		if err := createQueue(ctx, cfg.Table.ConnectionString, cfg.Notify.Queue); err != nil {
			log.Fatalf("create queue %s: %v", cfg.Notify.Queue, err)
		}
	}

	log.WithFields(log.Fields{"table": cfg.Table.Name, "queue": cfg.Notify.Queue}).Info("storage init complete")
}

func createTable(ctx context.Context, connStr, name string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	_, err = svc.NewClient(name).CreateTable(ctx, nil)
	return ignoreExisting(err, string(aztables.TableAlreadyExists))
}

func createQueue(ctx context.Context, connStr, name string) error {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
	if err != nil {
		return err
	}
	_, err = q.Create(ctx, nil)
	return ignoreExisting(err, queueAlreadyExists)
}

// ignoreExisting treats an "already exists" service error as success.
func ignoreExisting(err error, code string) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.ErrorCode == code {
		log.WithField("code", code).Debug("resource already exists")
		return nil
	}
	return err
}

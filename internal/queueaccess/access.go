// Package queueaccess hands the CLI one set of job mutations whether they
// are served by a running daemon or by the state directory opened directly.
package queueaccess

import (
	"context"
	"encoding/json"

	"sdqueue/internal/ipc"
	"sdqueue/internal/jobs"
)

// Access mutates the job table regardless of IPC or direct store backing.
type Access interface {
	Submit(ctx context.Context, kind jobs.Kind, params json.RawMessage) (string, error)
	SubmitModelDownload(ctx context.Context, params jobs.DownloadParams) (string, string, error)
	Cancel(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	Restore(ctx context.Context, id string) (bool, error)
	Purge(ctx context.Context, id string) (bool, error)
	ClearCompleted(ctx context.Context) (int, error)
	PurgeExpired(ctx context.Context) (int, error)
	ClearRecycleBin(ctx context.Context) (int, error)
}

// NewIPCAccess returns an Access backed by daemon IPC.
func NewIPCAccess(client *ipc.Client) Access {
	return &ipcAccess{client: client}
}

type ipcAccess struct {
	client *ipc.Client
}

func (a *ipcAccess) Submit(_ context.Context, kind jobs.Kind, params json.RawMessage) (string, error) {
	return a.client.Submit(kind, params)
}

func (a *ipcAccess) SubmitModelDownload(_ context.Context, params jobs.DownloadParams) (string, string, error) {
	resp, err := a.client.SubmitDownload(params)
	if err != nil {
		return "", "", err
	}
	return resp.DownloadID, resp.HashID, nil
}

func (a *ipcAccess) Cancel(_ context.Context, id string) (bool, error) {
	return a.client.Cancel(id)
}

func (a *ipcAccess) Delete(_ context.Context, id string) (bool, error) {
	return a.client.Delete(id)
}

func (a *ipcAccess) Restore(_ context.Context, id string) (bool, error) {
	return a.client.Restore(id)
}

func (a *ipcAccess) Purge(_ context.Context, id string) (bool, error) {
	return a.client.Purge(id)
}

func (a *ipcAccess) ClearCompleted(context.Context) (int, error) {
	return a.client.ClearCompleted()
}

func (a *ipcAccess) PurgeExpired(context.Context) (int, error) {
	return a.client.PurgeExpired()
}

func (a *ipcAccess) ClearRecycleBin(context.Context) (int, error) {
	return a.client.ClearRecycleBin()
}

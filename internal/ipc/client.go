package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"sdqueue/internal/jobs"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, client: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) call(method string, req, resp any) error {
	return c.client.Call(serviceName+"."+method, req, resp)
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Submit queues a job and returns its id.
func (c *Client) Submit(kind jobs.Kind, params []byte) (string, error) {
	var resp SubmitResponse
	if err := c.call("Submit", SubmitRequest{Kind: string(kind), Params: params}, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// SubmitDownload queues a linked download and hash pair.
func (c *Client) SubmitDownload(params jobs.DownloadParams) (*SubmitDownloadResponse, error) {
	var resp SubmitDownloadResponse
	if err := c.call("SubmitDownload", SubmitDownloadRequest{Params: params}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Get returns the live view of a job, including in-flight progress.
func (c *Client) Get(id string) (jobs.Job, bool, error) {
	var resp JobResponse
	if err := c.call("Get", JobRequest{ID: id}, &resp); err != nil {
		return jobs.Job{}, false, err
	}
	return resp.Job, resp.Found, nil
}

// Cancel cancels a pending job.
func (c *Client) Cancel(id string) (bool, error) { return c.action("Cancel", id) }

// Delete moves a job to the recycle bin.
func (c *Client) Delete(id string) (bool, error) { return c.action("Delete", id) }

// Restore brings a job back from the recycle bin.
func (c *Client) Restore(id string) (bool, error) { return c.action("Restore", id) }

// Purge removes a job permanently.
func (c *Client) Purge(id string) (bool, error) { return c.action("Purge", id) }

// ClearCompleted deletes every finished job.
func (c *Client) ClearCompleted() (int, error) { return c.bulk("ClearCompleted") }

// PurgeExpired removes recycle bin entries past retention.
func (c *Client) PurgeExpired() (int, error) { return c.bulk("PurgeExpired") }

// ClearRecycleBin empties the recycle bin.
func (c *Client) ClearRecycleBin() (int, error) { return c.bulk("ClearRecycleBin") }

// Events long-polls the daemon's event hub.
func (c *Client) Events(req EventsRequest) (*EventsResponse, error) {
	var resp EventsResponse
	if err := c.call("Events", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Preview returns the latest preview frame of a running job.
func (c *Client) Preview(id string) (*PreviewResponse, error) {
	var resp PreviewResponse
	if err := c.call("Preview", JobRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) action(method, id string) (bool, error) {
	var resp ActionResponse
	if err := c.call(method, JobRequest{ID: id}, &resp); err != nil {
		return false, err
	}
	return resp.Applied, nil
}

func (c *Client) bulk(method string) (int, error) {
	var resp BulkResponse
	if err := c.call(method, BulkRequest{}, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

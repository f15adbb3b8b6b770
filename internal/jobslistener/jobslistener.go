// Package jobslistener implements the IoT Jobs "get next job" workflow over
// MQTT: discovering cloud-issued deployments, enqueuing them,
// and reporting their completion status with version-aware optimistic
// concurrency. Grounded on iot_jobs_listener.c's topic builders, current-job
// cell, and update_job rejection-driven rebase loop.
package jobslistener

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/greengrass-lite/ggdeploymentd/internal/bootstrap"
	"github.com/greengrass-lite/ggdeploymentd/internal/configstore"
	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
	"github.com/greengrass-lite/ggdeploymentd/internal/model"
	"github.com/greengrass-lite/ggdeploymentd/pkg/logging"
)

// rpcTimeout bounds every MQTT request/response call. MQTT RPCs have a
// 300-second default.
const rpcTimeout = 300 * time.Second

// thingNameKey is where the device's IoT thing name lives in config.
const thingNameKey = "system/thingName"

// Enqueuer is the narrow seam onto the deployment queue (implemented by
// *queue.Queue).
type Enqueuer interface {
	Enqueue(raw json.RawMessage, t model.Type) (string, error)
}

// Config holds the device mTLS identity and MQTT broker endpoint, mirroring
// dataplane.Config's certificate-based connection shape.
type Config struct {
	BrokerURL string // e.g. "ssl://xxxx-ats.iot.us-east-1.amazonaws.com:8883"
	ClientID  string
	CertFile  string
	KeyFile   string
	CAFile    string
}

// Client runs the Jobs listener state machine: it owns the MQTT connection,
// the current-job cell, and the describe-next-job retry loop.
type Client struct {
	transport mqttTransport
	store     configstore.Store
	queue     Enqueuer
	bootstrap *bootstrap.Manager
	logger    logging.Interface

	thingName string
	current   currentJob

	needsDescribe chan struct{}
}

// New constructs a Client. The MQTT connection is established by Start, not
// here, since thing-name retrieval (which gates the first subscription)
// needs a context and indefinite retry. bs may be nil, in which case
// current-job state isn't persisted for bootstrap resumption (e.g. in
// tests).
func New(cfg Config, store configstore.Store, queue Enqueuer, bs *bootstrap.Manager, logger logging.Interface) (*Client, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	tlsConfig, err := loadTLSConfig(cfg.CertFile, cfg.KeyFile, cfg.CAFile)
	if err != nil {
		return nil, err
	}

	c := &Client{
		store:         store,
		queue:         queue,
		bootstrap:     bs,
		logger:        logger,
		needsDescribe: make(chan struct{}, 1),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetTLSConfig(tlsConfig).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(mqtt.Client) { c.signalDescribe() }).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.logger.Warnf("mqtt connection lost: %v", err)
		})

	c.transport = &pahoTransport{client: mqtt.NewClient(opts)}
	return c, nil
}

func loadTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, ggerr.Wrap(ggerr.Failure, "load device certificate/key", err)
	}
	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, ggerr.Wrap(ggerr.Failure, "read device CA bundle", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, ggerr.New(ggerr.Invalid, "no valid certificates found in CA bundle "+caFile)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// Start connects, retrieves the device's thing name with indefinite retry,
// subscribes to the Jobs topics, and runs the describe loop until ctx is
// canceled. Initialization order matters here: the thing-name fetch must
// precede MQTT subscription.
func (c *Client) Start(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return ggerr.Wrap(ggerr.Failure, "connect to mqtt broker", err)
	}

	thingName, err := c.retrieveThingName(ctx)
	if err != nil {
		return err
	}
	c.thingName = thingName

	if err := c.subscribeToJobTopics(ctx); err != nil {
		return err
	}

	c.signalDescribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.needsDescribe:
			c.describeLoop(ctx)
		}
	}
}

// retrieveThingName reads system/thingName with indefinite retry, backing
// off from a 1ms base up to a 1s cap between boot-time config reads.
func (c *Client) retrieveThingName(ctx context.Context) (string, error) {
	delay := time.Millisecond
	const maxDelay = time.Second

	for {
		var name string
		err := c.store.Get(ctx, thingNameKey, &name)
		if err == nil && name != "" {
			return name, nil
		}
		c.logger.Debugf("thing name not yet available: %v", err)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		if delay < maxDelay {
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		}
	}
}

// describeLoop retries describe-next-job with backoff (10ms-10s, spec's
// subscribe/describe retry shape in job_listener_thread) until it succeeds
// or ctx is done, then drains any describe requests that piled up while it
// ran.
func (c *Client) describeLoop(ctx context.Context) {
	delay := 10 * time.Millisecond
	const maxDelay = 10 * time.Second

	for {
		if err := c.describeNextJob(ctx); err != nil {
			c.logger.Warnf("describe next job failed, retrying: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			if delay < maxDelay {
				delay *= 2
				if delay > maxDelay {
					delay = maxDelay
				}
			}
			continue
		}
		return
	}
}

func (c *Client) signalDescribe() {
	select {
	case c.needsDescribe <- struct{}{}:
	default:
	}
}

func (c *Client) subscribeToJobTopics(ctx context.Context) error {
	topic := nextJobChangedTopic(c.thingName)
	err := c.transport.Subscribe(topic, 1, func(_ string, payload []byte) {
		c.onNextJobChanged(ctx, payload)
	})
	if err != nil {
		return ggerr.Wrap(ggerr.Failure, "subscribe to "+topic, err)
	}
	return nil
}

// Close disconnects the MQTT client. Start's ctx should be canceled first so
// its loop exits before the connection underneath it is torn down.
func (c *Client) Close() {
	c.transport.Disconnect()
}

// ResumeForBootstrap installs a recovered (jobId, deploymentId, version)
// into the current-job cell before the listener starts, so post-reboot
// status updates route correctly (spec "set_jobs_deployment_for_bootstrap").
func (c *Client) ResumeForBootstrap(jobID, deploymentID string, version int64) error {
	if version < 0 || version > int64(^uint32(0)>>1) {
		return ggerr.New(ggerr.Invalid, fmt.Sprintf("invalid jobs version %d", version))
	}
	if !c.current.resumeForBootstrap(jobID, deploymentID, int32(version)) {
		return ggerr.New(ggerr.NoEntry, "bootstrap deployment was superseded by a new job")
	}
	return nil
}

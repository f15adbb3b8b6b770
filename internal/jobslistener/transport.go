package jobslistener

import (
	"context"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
)

// mqttTransport is the narrow slice of an MQTT client the listener drives;
// an interface seam so tests can exercise the Jobs state machine without a
// broker. The real implementation (pahoTransport) adapts paho's
// token-based async API to plain blocking calls.
type mqttTransport interface {
	Connect(ctx context.Context) error
	Disconnect()
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	Unsubscribe(topics ...string) error
}

type pahoTransport struct {
	client mqtt.Client
}

func (t *pahoTransport) Connect(ctx context.Context) error {
	token := t.client.Connect()
	return waitToken(ctx, token)
}

func (t *pahoTransport) Disconnect() {
	t.client.Disconnect(250)
}

func (t *pahoTransport) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	token := t.client.Publish(topic, qos, false, payload)
	return waitToken(ctx, token)
}

func (t *pahoTransport) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	token := t.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	return token.Error()
}

func (t *pahoTransport) Unsubscribe(topics ...string) error {
	token := t.client.Unsubscribe(topics...)
	token.Wait()
	return token.Error()
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	select {
	case <-done:
		if err := token.Error(); err != nil {
			return ggerr.Wrap(ggerr.Failure, "mqtt operation", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

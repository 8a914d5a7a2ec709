package monitor

import (
	"fmt"
	"time"

	mqttapi "github.com/eclipse/paho.mqtt.golang"
)

// MQTT publishes to a broker with QoS 0.
type MQTT struct {
	client mqttapi.Client
}

// DialMQTT connects to broker, e.g. "tcp://localhost:1883".
func DialMQTT(broker, clientID string) (*MQTT, error) {
	opts := mqttapi.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID)
	opts.SetKeepAlive(2 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetOrderMatters(false)

	client := mqttapi.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to mqtt: %w", token.Error())
	}
	return &MQTT{client: client}, nil
}

func (m *MQTT) Publish(topic string, payload []byte) error {
	token := m.client.Publish(topic, 0, false, payload)
	token.Wait()
	return token.Error()
}

func (m *MQTT) Close() {
	m.client.Disconnect(250)
}

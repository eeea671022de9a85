package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"

	"github.com/mohammed-shakir/polluted-cities/internal/cache/keys"
	"github.com/mohammed-shakir/polluted-cities/internal/cache/redisstore"
	"github.com/mohammed-shakir/polluted-cities/internal/invalidation"
)

func getenv(key, def string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return def
}

func testRedis(ctx context.Context, addr string) error {
	fmt.Println("Redis test")
	client, err := redisstore.New(ctx, addr, redisstore.WithDialTimeout(2*time.Second))
	if client != nil {
		defer func() { _ = client.Close() }()
	}
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	if err := client.Set(ctx, "smoke:hello", []byte(`"world"`), 30*time.Second); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	val, found, err := client.Get(ctx, "smoke:hello")
	if err != nil {
		return fmt.Errorf("redis get: %w", err)
	}
	if !found {
		return fmt.Errorf("redis get: smoke key missing right after set")
	}
	fmt.Println("redis GET smoke:hello:", string(val))

	pages, err := client.Scan(ctx, keys.AllPages)
	if err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	fmt.Println("cached pages:", len(pages))
	return nil
}

func testCities(ctx context.Context, baseURL, country string) error {
	fmt.Println("Cities test")

	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/cities")
	if err != nil {
		return fmt.Errorf("bad service URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	q := u.Query()
	q.Set("country", country)
	q.Set("limit", "3")
	u.RawQuery = q.Encode()

	for i := 0; i < 2; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("http get cities: %w", err)
		}
		// Only read a small part of body (because it can be large)
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("cities status %d: %s", resp.StatusCode, string(body))
		}

		var env struct {
			Source string `json:"source"`
			Data   struct {
				Total int `json:"total"`
			} `json:"data"`
		}
		_ = json.Unmarshal(body, &env)
		fmt.Printf("request %d: source=%s total=%d etag=%s\n", i+1, env.Source, env.Data.Total, resp.Header.Get("ETag"))
	}
	return nil
}

func testKafka(brokers []string, topic, country string) error {
	fmt.Println("Kafka test")

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Version = sarama.V3_6_0_0
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	ev := invalidation.Event{
		Version: 1,
		Kind:    invalidation.KindPage,
		Country: country,
		TS:      time.Now().UTC(),
		Source:  "smoke",
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("event: %w", err)
	}
	msgBytes, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	part, off, err := prod.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(country),
		Value: sarama.ByteEncoder(msgBytes),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	fmt.Printf("produced page invalidation for %s (partition=%d offset=%d)\n", country, part, off)
	return nil
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	redisAddr := getenv("REDIS_ADDR", "localhost:6379")
	service := getenv("SERVICE_URL", "http://localhost:8000")
	country := getenv("SMOKE_COUNTRY", "PL")
	brokers := strings.Split(getenv("KAFKA_BROKERS", "localhost:9092"), ",")
	topic := getenv("KAFKA_TOPIC", "pollution-invalidation")

	if err := testRedis(ctx, redisAddr); err != nil {
		fmt.Println("Redis error:", err)
		os.Exit(1)
	}
	if err := testCities(ctx, service, country); err != nil {
		fmt.Println("Cities error:", err)
		os.Exit(1)
	}
	if getenv("SMOKE_KAFKA", "true") == "true" {
		if err := testKafka(brokers, topic, country); err != nil {
			fmt.Println("Kafka error:", err)
			os.Exit(1)
		}
	}
	fmt.Println("All tests completed")
}

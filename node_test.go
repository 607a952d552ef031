package redisserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/raniellyferreira/redis-inmemory-server/metrics"
)

var (
	_ MetricsCollector = (*metrics.Collector)(nil)
	_ metrics.Status   = (*Node)(nil)
)

// quietLogger discards everything
type quietLogger struct{}

func (quietLogger) Debug(string, ...Field) {}
func (quietLogger) Info(string, ...Field)  {}
func (quietLogger) Error(string, ...Field) {}

// startTestNode creates and starts a node listening on a random port
func startTestNode(t *testing.T, opts ...Option) *Node {
	t.Helper()
	opts = append([]Option{
		WithAddr("127.0.0.1:0"),
		WithDir(t.TempDir()),
		WithLogger(quietLogger{}),
		WithConnectTimeout(time.Second),
		WithSyncTimeout(5 * time.Second),
	}, opts...)

	node, err := New(opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { node.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := node.Start(ctx); err != nil {
		t.Fatal(err)
	}
	return node
}

func newClient(t *testing.T, addr string) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	return client
}

// eventually polls cond until it holds or the deadline passes
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNodePrimaryCommands(t *testing.T) {
	node := startTestNode(t)
	client := newClient(t, node.Addr())
	ctx := context.Background()

	if pong, err := client.Ping(ctx).Result(); err != nil || pong != "PONG" {
		t.Fatalf("PING = %q, %v", pong, err)
	}

	if err := client.Set(ctx, "key", "value", 0).Err(); err != nil {
		t.Fatal(err)
	}
	if got, err := client.Get(ctx, "key").Result(); err != nil || got != "value" {
		t.Errorf("GET = %q, %v", got, err)
	}
	if _, err := client.Get(ctx, "missing").Result(); !errors.Is(err, redis.Nil) {
		t.Errorf("GET missing error = %v, want redis.Nil", err)
	}

	if n, err := client.Incr(ctx, "counter").Result(); err != nil || n != 1 {
		t.Errorf("INCR = %d, %v", n, err)
	}

	if err := client.Set(ctx, "temp", "v", time.Minute).Err(); err != nil {
		t.Fatal(err)
	}
	if ttl, err := client.TTL(ctx, "temp").Result(); err != nil || ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, %v", ttl, err)
	}

	if err := client.HSet(ctx, "hash", "a", "1", "b", "2").Err(); err != nil {
		t.Fatal(err)
	}
	if m, err := client.HGetAll(ctx, "hash").Result(); err != nil || len(m) != 2 || m["b"] != "2" {
		t.Errorf("HGETALL = %v, %v", m, err)
	}

	if err := client.Set(ctx, "str", "x", 0).Err(); err != nil {
		t.Fatal(err)
	}
	if err := client.LPush(ctx, "str", "y").Err(); err == nil || !strings.HasPrefix(err.Error(), "WRONGTYPE") {
		t.Errorf("LPUSH on string error = %v", err)
	}
}

func TestNodeTransactionsAndScripts(t *testing.T) {
	node := startTestNode(t)
	client := newClient(t, node.Addr())
	ctx := context.Background()

	var incr *redis.IntCmd
	var get *redis.StringCmd
	_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, "n", "1", 0)
		incr = pipe.Incr(ctx, "n")
		get = pipe.Get(ctx, "n")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if incr.Val() != 2 || get.Val() != "2" {
		t.Errorf("transaction results = %d, %q", incr.Val(), get.Val())
	}

	script := redis.NewScript(`
		redis.call('SET', KEYS[1], ARGV[1])
		return redis.call('INCR', KEYS[2])
	`)
	got, err := script.Run(ctx, client, []string{"a", "n"}, "from-lua").Int64()
	if err != nil || got != 3 {
		t.Errorf("script = %d, %v", got, err)
	}
	if v, _ := client.Get(ctx, "a").Result(); v != "from-lua" {
		t.Errorf("GET a = %q", v)
	}
}

func TestNodeBlockingPop(t *testing.T) {
	node := startTestNode(t)
	consumer := newClient(t, node.Addr())
	producer := newClient(t, node.Addr())
	ctx := context.Background()

	result := make(chan []string, 1)
	go func() {
		v, err := consumer.BLPop(ctx, 0, "jobs").Result()
		if err != nil {
			t.Errorf("BLPOP: %v", err)
		}
		result <- v
	}()

	time.Sleep(100 * time.Millisecond)
	if err := producer.RPush(ctx, "jobs", "job-1").Err(); err != nil {
		t.Fatal(err)
	}

	select {
	case v := <-result:
		if len(v) != 2 || v[0] != "jobs" || v[1] != "job-1" {
			t.Errorf("BLPOP = %v", v)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("BLPOP was not woken by RPUSH")
	}
}

func TestNodePubSub(t *testing.T) {
	node := startTestNode(t)
	subscriber := newClient(t, node.Addr())
	publisher := newClient(t, node.Addr())
	ctx := context.Background()

	sub := subscriber.Subscribe(ctx, "events")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe confirmation: %v", err)
	}

	if n, err := publisher.Publish(ctx, "events", "hello").Result(); err != nil || n != 1 {
		t.Fatalf("PUBLISH = %d, %v", n, err)
	}

	msgCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(msgCtx)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Channel != "events" || msg.Payload != "hello" {
		t.Errorf("message = %s %s", msg.Channel, msg.Payload)
	}
}

func TestNodeAuth(t *testing.T) {
	node := startTestNode(t, WithPassword("secret"))
	ctx := context.Background()

	anonymous := newClient(t, node.Addr())
	if err := anonymous.Get(ctx, "key").Err(); err == nil || !strings.HasPrefix(err.Error(), "NOAUTH") {
		t.Errorf("unauthenticated GET error = %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: node.Addr(), Password: "secret"})
	defer client.Close()
	if err := client.Set(ctx, "key", "v", 0).Err(); err != nil {
		t.Errorf("authenticated SET: %v", err)
	}

	wrong := redis.NewClient(&redis.Options{Addr: node.Addr(), Password: "wrong"})
	defer wrong.Close()
	if err := wrong.Ping(ctx).Err(); err == nil || !strings.Contains(err.Error(), "WRONGPASS") {
		t.Errorf("wrong password error = %v", err)
	}
}

func TestNodeReplicaFollowsPrimary(t *testing.T) {
	primary := startTestNode(t, WithPassword("secret"))
	ctx := context.Background()

	pc := redis.NewClient(&redis.Options{Addr: primary.Addr(), Password: "secret"})
	defer pc.Close()
	if err := pc.Set(ctx, "before", "sync", 0).Err(); err != nil {
		t.Fatal(err)
	}

	replica := startTestNode(t,
		WithReplicaOf(primary.Addr()),
		WithMasterAuth("", "secret"),
	)
	if replica.Role() != "replica" || primary.Role() != "master" {
		t.Errorf("roles = %s, %s", primary.Role(), replica.Role())
	}

	syncCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := replica.WaitForSync(syncCtx); err != nil {
		t.Fatal(err)
	}

	rc := newClient(t, replica.Addr())
	if v, err := rc.Get(ctx, "before").Result(); err != nil || v != "sync" {
		t.Errorf("snapshot key = %q, %v", v, err)
	}

	if err := pc.Set(ctx, "after", "streamed", 0).Err(); err != nil {
		t.Fatal(err)
	}
	if err := pc.XAdd(ctx, &redis.XAddArgs{Stream: "s", Values: []string{"f", "v"}}).Err(); err != nil {
		t.Fatal(err)
	}
	if n, err := pc.Do(ctx, "WAIT", 1, 2000).Int(); err != nil || n != 1 {
		t.Errorf("WAIT = %d, %v", n, err)
	}

	eventually(t, "replicated write", func() bool {
		v, err := rc.Get(ctx, "after").Result()
		return err == nil && v == "streamed"
	})

	primaryID, _ := pc.XRange(ctx, "s", "-", "+").Result()
	replicaID, _ := rc.XRange(ctx, "s", "-", "+").Result()
	if len(primaryID) != 1 || len(replicaID) != 1 || primaryID[0].ID != replicaID[0].ID {
		t.Errorf("stream ids differ: primary %v, replica %v", primaryID, replicaID)
	}

	if err := rc.Set(ctx, "local", "write", 0).Err(); err == nil || !strings.HasPrefix(err.Error(), "READONLY") {
		t.Errorf("replica write error = %v", err)
	}

	status := replica.SyncStatus()
	if !status.InitialSyncCompleted || !status.Connected {
		t.Errorf("sync status = %+v", status)
	}
	if err := replica.Healthy(); err != nil {
		t.Errorf("Healthy() = %v", err)
	}
	if info := replica.Info("replication"); !strings.Contains(info, "role:slave") || !strings.Contains(info, "master_link_status:up") {
		t.Errorf("replica INFO = %q", info)
	}
	if info := primary.Info("replication"); !strings.Contains(info, "connected_slaves:1") {
		t.Errorf("primary INFO = %q", info)
	}
}

func TestNodeSnapshotSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := startTestNode(t, WithDir(dir))
	client := newClient(t, first.Addr())
	client.Set(ctx, "greeting", "hello", 0)
	client.RPush(ctx, "list", "a", "b")
	client.ZAdd(ctx, "z", redis.Z{Score: 1.5, Member: "m"})
	if err := client.Save(ctx).Err(); err != nil {
		t.Fatalf("SAVE: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second := startTestNode(t, WithDir(dir))
	client = newClient(t, second.Addr())
	if v, err := client.Get(ctx, "greeting").Result(); err != nil || v != "hello" {
		t.Errorf("GET greeting = %q, %v", v, err)
	}
	if v, err := client.LRange(ctx, "list", 0, -1).Result(); err != nil || strings.Join(v, ",") != "a,b" {
		t.Errorf("LRANGE list = %v, %v", v, err)
	}
	if s, err := client.ZScore(ctx, "z", "m").Result(); err != nil || s != 1.5 {
		t.Errorf("ZSCORE = %v, %v", s, err)
	}
}

func TestNodeAdminAPI(t *testing.T) {
	collector := metrics.NewCollector("redis")
	node := startTestNode(t, WithMetrics(collector), WithAdminAddr("127.0.0.1:0"))
	client := newClient(t, node.Addr())
	if err := client.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatal(err)
	}

	get := func(path string) (int, string) {
		t.Helper()
		resp, err := http.Get("http://" + node.AdminAddr() + path)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	if code, body := get("/healthz"); code != http.StatusOK || body != "ok" {
		t.Errorf("/healthz = %d %q", code, body)
	}
	if code, body := get("/metrics"); code != http.StatusOK || !strings.Contains(body, `redis_commands_processed_total{cmd="set"}`) {
		t.Errorf("/metrics = %d, missing set counter", code)
	}
	if code, body := get("/info?section=keyspace"); code != http.StatusOK || !strings.Contains(body, "db0:keys=1") {
		t.Errorf("/info = %d %q", code, body)
	}
}

func TestNodeLifecycle(t *testing.T) {
	node, err := New(WithAddr("127.0.0.1:0"), WithLogger(quietLogger{}), WithDir(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	if err := node.WaitForSync(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("WaitForSync before Start = %v", err)
	}
	if err := node.Healthy(); err == nil {
		t.Error("Healthy() before Start = nil")
	}
	if err := node.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := node.WaitForSync(context.Background()); err != nil {
		t.Errorf("primary WaitForSync = %v", err)
	}
	if err := node.Close(); err != nil {
		t.Fatal(err)
	}
	if err := node.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if err := node.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close = %v", err)
	}
}

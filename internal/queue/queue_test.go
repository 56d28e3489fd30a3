package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/graph"
	"github.com/OFFIS-RIT/kinship/pkg/leaselock"
	"github.com/OFFIS-RIT/kinship/pkg/reasoning"
	"github.com/OFFIS-RIT/kinship/pkg/scoring"
	"github.com/OFFIS-RIT/kinship/pkg/store/memory"

	"github.com/rabbitmq/amqp091-go"
)

type fakeDeclarer struct {
	declared map[string]amqp091.Table
}

func (f *fakeDeclarer) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error) {
	f.declared[name] = args
	return amqp091.Queue{Name: name}, nil
}

type published struct {
	key string
	msg amqp091.Publishing
}

type fakePublisher struct {
	sent []published
	err  error
}

func (f *fakePublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{key: key, msg: msg})
	return nil
}

type fakeAcker struct {
	acks, nacks int
}

func (f *fakeAcker) Ack(tag uint64, multiple bool) error {
	f.acks++
	return nil
}

func (f *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	f.nacks++
	return nil
}

func (f *fakeAcker) Reject(tag uint64, requeue bool) error { return nil }

func TestSetupQueues(t *testing.T) {
	d := &fakeDeclarer{declared: map[string]amqp091.Table{}}
	if err := SetupQueues(d, Queues, 3*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.declared) != 3*len(Queues) {
		t.Fatalf("expected %d queues, got %d", 3*len(Queues), len(d.declared))
	}
	retry := d.declared[CentralityQueue+"_retry"]
	if retry["x-message-ttl"] != int32(3000) || retry["x-dead-letter-routing-key"] != CentralityQueue {
		t.Fatalf("expected retry queue to dead-letter back after 3s, got %v", retry)
	}
}

func TestHandleFailure(t *testing.T) {
	tests := []struct {
		name    string
		retries any
		cause   error
		target  string
	}{
		{name: "first failure", retries: nil, cause: errors.New("db down"), target: ScoreQueue + "_retry"},
		{name: "retried", retries: int32(4), cause: errors.New("db down"), target: ScoreQueue + "_retry"},
		{name: "exhausted", retries: int32(MaxRetries), cause: errors.New("db down"), target: ScoreQueue + "_dlq"},
		{name: "invalid", retries: nil, cause: common.InvalidParameter("score", "bad kind"), target: ScoreQueue + "_dlq"},
		{name: "malformed", retries: nil, cause: permanent(errors.New("bad json")), target: ScoreQueue + "_dlq"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			ack := &fakeAcker{}
			msg := amqp091.Delivery{Acknowledger: ack, Headers: amqp091.Table{}, Body: []byte("{}")}
			if tt.retries != nil {
				msg.Headers["x-retries"] = tt.retries
			}

			HandleFailure(context.Background(), pub, msg, ScoreQueue, tt.cause)
			if len(pub.sent) != 1 || pub.sent[0].key != tt.target {
				t.Fatalf("expected message moved to %s, got %+v", tt.target, pub.sent)
			}
			if ack.acks != 1 {
				t.Fatalf("expected one ack, got %d", ack.acks)
			}
			if tt.target == ScoreQueue+"_retry" {
				want := int32(retriesOf(msg.Headers) + 1)
				if got := pub.sent[0].msg.Headers["x-retries"]; got != want {
					t.Fatalf("expected x-retries %d, got %v", want, got)
				}
			}
		})
	}
}

func TestHandleFailureRequeuesWhenMoveFails(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	ack := &fakeAcker{}

	HandleFailure(context.Background(), pub, amqp091.Delivery{Acknowledger: ack}, BuildQueue, errors.New("boom"))
	if ack.nacks != 1 || ack.acks != 0 {
		t.Fatalf("expected one nack, got %d acks and %d nacks", ack.acks, ack.nacks)
	}
}

func TestProcessPipeline(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	day := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := day.AddDate(1, 0, 0)
	s.AddEmployment(
		common.EmploymentRecord{PersonID: "a", CompanyID: "x", Start: day, End: &end},
		common.EmploymentRecord{PersonID: "b", CompanyID: "x", Start: day, End: &end},
		common.EmploymentRecord{PersonID: "c", CompanyID: "x", Start: day, End: &end},
	)
	s.AddPerson(memory.PersonMeta{ID: "a", Followers: 3}, memory.PersonMeta{ID: "b"}, memory.PersonMeta{ID: "c"})

	opts := graph.DefaultOptions()
	opts.AsOf = end
	snapshots := graph.NewSnapshotCache(s, 0)
	p := &Processor{
		Builder:   graph.NewBuilder(s, leaselock.NewLocal(), nil, opts),
		Scoring:   scoring.NewEngine(s, snapshots, nil, scoring.Options{}),
		Reasoning: reasoning.NewService(s, snapshots, nil, nil, reasoning.Options{}),
	}

	messages := []struct {
		queue string
		msg   any
	}{
		{queue: BuildQueue, msg: BuildMsg{AllShards: true}},
		{queue: ScoreQueue, msg: ScoreMsg{Kind: common.EntityDeveloper}},
		{queue: CentralityQueue, msg: CentralityMsg{}},
		{queue: CommunityQueue, msg: CommunityMsg{Algorithm: reasoning.AlgorithmLouvain}},
		{queue: FeatureQueue, msg: FeatureMsg{}},
	}
	for _, m := range messages {
		body, _ := json.Marshal(m.msg)
		if err := p.Process(ctx, m.queue, body); err != nil {
			t.Fatalf("unexpected error on %s: %v", m.queue, err)
		}
	}

	gen, _ := s.ActiveGeneration(ctx)
	if gen.EdgeCount != 3 {
		t.Fatalf("expected 3 co-employment edges, got %d", gen.EdgeCount)
	}
	if run, _ := s.LatestScoreRun(ctx, common.ScoreCentrality, common.EntityDeveloper); run == nil || run.Generation != gen.ID {
		t.Fatalf("expected centrality run for generation %d, got %+v", gen.ID, run)
	}
	if run, _ := s.LatestCommunityRun(ctx); run == nil || len(run.Communities) != 1 {
		t.Fatalf("expected one community for a triangle, got %+v", run)
	}
	if v, _ := s.GetFeatures(ctx, common.PersonID("a")); v == nil {
		t.Fatal("expected features for a")
	}
}

func TestProcessBuildContinuesBoundedBuild(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	day := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := day.AddDate(1, 0, 0)
	for _, company := range []string{"x", "y", "z"} {
		s.AddEmployment(
			common.EmploymentRecord{PersonID: company + "1", CompanyID: company, Start: day, End: &end},
			common.EmploymentRecord{PersonID: company + "2", CompanyID: company, Start: day, End: &end},
		)
	}

	opts := graph.DefaultOptions()
	opts.Shards = 1
	opts.AsOf = end
	pub := &fakePublisher{}
	p := &Processor{
		Builder: graph.NewBuilder(s, leaselock.NewLocal(), nil, opts),
		Queue:   pub,
	}

	body, _ := json.Marshal(BuildMsg{
		Message:      Message{CorrelationID: "c1"},
		BuildRequest: graph.BuildRequest{PageSize: 1, MaxPages: 1},
	})
	finished := false
	for range 20 {
		if err := p.Process(ctx, BuildQueue, body); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(pub.sent) == 0 {
			finished = true
			break
		}
		next := pub.sent[0]
		pub.sent = pub.sent[1:]
		if next.key != BuildQueue {
			t.Fatalf("expected continuation on %s, got %s", BuildQueue, next.key)
		}
		var msg BuildMsg
		if err := json.Unmarshal(next.msg.Body, &msg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.CorrelationID != "c1" || msg.MaxPages != 1 || msg.Cursor != "" {
			t.Fatalf("expected continuation of c1 from the persisted cursor, got %+v", msg)
		}
		body = next.msg.Body
	}
	if !finished {
		t.Fatal("expected the build to finish within 20 continuations")
	}

	gen, _ := s.ActiveGeneration(ctx)
	if gen.ID == 0 || gen.EdgeCount != 3 {
		t.Fatalf("expected a published generation with 3 edges, got %+v", gen)
	}
}

func TestProcessRejectsMalformedMessages(t *testing.T) {
	p := &Processor{}
	if err := p.Process(context.Background(), ScoreQueue, []byte("{")); !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if err := p.Process(context.Background(), "unknown_queue", nil); !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestConfigURL(t *testing.T) {
	c := Config{User: "kin", Password: "p@ss", Host: "mq", Port: "5672"}
	if got := c.URL(); got != "amqp://kin:p%40ss@mq:5672/" {
		t.Fatalf("expected escaped url, got %s", got)
	}
}

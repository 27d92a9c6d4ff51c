package relay

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// Helper to create a test network of nodes with unique ports.
func setupTestNetwork(t *testing.T, nodeIDs []string, basePort int) map[string]*Node {
	t.Helper()
	peerDirectory := make(map[string]string)
	for i, id := range nodeIDs {
		peerDirectory[id] = fmt.Sprintf("localhost:%d", basePort+i)
	}
	nodes := make(map[string]*Node)
	var wg sync.WaitGroup
	readyCh := make(chan struct{})
	for id, addr := range peerDirectory {
		nodes[id] = NewNode(id, addr, peerDirectory, &wg, zerolog.Nop())
	}
	for _, node := range nodes {
		if err := node.StartServer(readyCh); err != nil {
			t.Fatalf("StartServer failed: %v", err)
		}
	}
	for i := 0; i < len(nodes); i++ {
		<-readyCh
	}
	t.Cleanup(func() {
		for _, n := range nodes {
			n.Close()
		}
	})
	return nodes
}

func TestSubmitDelivery(t *testing.T) {
	nodes := setupTestNetwork(t, []string{"A", "B"}, 9100)
	got := make(chan SubmitPayload, 1)
	nodes["B"].RegisterHandler(TypeSubmit, func(n *Node, msg Message) {
		var p SubmitPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			t.Errorf("bad payload: %v", err)
			return
		}
		select {
		case got <- p:
		default:
		}
	})

	sent := SubmitPayload{
		Owner:      "alice",
		Commitment: "0xabc",
		Nullifier:  "0xdef",
		MarketID:   1,
		Side:       "bid",
		Price:      100,
		Qty:        10,
	}
	if err := nodes["A"].SendMessage("B", TypeSubmit, sent); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	select {
	case p := <-got:
		if !reflect.DeepEqual(p, sent) {
			t.Errorf("received %+v, sent %+v", p, sent)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for submission")
	}
}

func TestBroadcastReachesAllPeers(t *testing.T) {
	nodes := setupTestNetwork(t, []string{"A", "B", "C"}, 9200)
	var mu sync.Mutex
	received := make(map[string]bool)
	for _, id := range []string{"B", "C"} {
		nodes[id].RegisterHandler(TypeMatch, func(n *Node, msg Message) {
			mu.Lock()
			received[n.ID] = true
			mu.Unlock()
		})
	}

	nodes["A"].Broadcast(TypeMatch, MatchPayload{CommitmentA: "0x1", CommitmentB: "0x2", FillAmount: 5, Price: 100})

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		ok := received["B"] && received["C"]
		mu.Unlock()
		if ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("broadcast not received by all nodes")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSendToNonExistentPeer(t *testing.T) {
	nodes := setupTestNetwork(t, []string{"A"}, 9400)
	err := nodes["A"].SendMessage("B", TypeCancel, CancelPayload{Owner: "alice", Commitment: "0x1"})
	if err == nil {
		t.Fatal("expected error when sending to a peer not in the directory")
	}
}

func TestHealthCheck(t *testing.T) {
	nodes := setupTestNetwork(t, []string{"A", "B"}, 9500)
	nodes["A"].HealthCheck()

	deadline := time.Now().Add(2 * time.Second)
	for !nodes["A"].PeerHealthy("B") {
		if time.Now().After(deadline) {
			t.Fatal("peer B should be healthy after ping/pong")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestUnknownTypeIsIgnored(t *testing.T) {
	nodes := setupTestNetwork(t, []string{"A", "B"}, 9600)
	if err := nodes["A"].SendMessage("B", "no_such_type", struct{}{}); err != nil {
		t.Fatalf("unknown type should be acknowledged, got %v", err)
	}
}

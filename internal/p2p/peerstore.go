package p2p

import (
	"encoding/json"
	"fmt"
	"time"

	klog "github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	peerKeyPrefix     = "peer/"
	staleThreshold    = 24 * time.Hour
	persistInterval   = 5 * time.Minute
	maxPersistedPeers = 500
)

// PeerRecord is a persisted peer entry.
type PeerRecord struct {
	ID       string   `json:"id"`        // base58 peer ID
	Addrs    []string `json:"addrs"`     // multiaddr strings
	LastSeen int64    `json:"last_seen"` // unix timestamp
	Source   string   `json:"source"`
}

// PeerStore persists peer records under the "peer/" prefix of a storage.DB.
type PeerStore struct {
	db  *storage.PrefixDB
	now func() time.Time
}

// NewPeerStore creates a new PeerStore backed by the given DB.
func NewPeerStore(db storage.DB) *PeerStore {
	return &PeerStore{
		db:  storage.NewPrefixDB(db, []byte(peerKeyPrefix)),
		now: time.Now,
	}
}

// Save persists a peer record. If the store already has maxPersistedPeers
// records and this is a new peer, the save is silently skipped.
func (ps *PeerStore) Save(rec PeerRecord) error {
	key := []byte(rec.ID)

	exists, err := ps.db.Has(key)
	if err != nil {
		return fmt.Errorf("check peer exists: %w", err)
	}
	if !exists {
		count, err := ps.Count()
		if err != nil {
			return err
		}
		if count >= maxPersistedPeers {
			return nil // At capacity, skip new peers.
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal peer record: %w", err)
	}
	return ps.db.Put(key, data)
}

// Load retrieves a single peer record by ID.
func (ps *PeerStore) Load(id peer.ID) (*PeerRecord, error) {
	data, err := ps.db.Get([]byte(id.String()))
	if err != nil {
		return nil, fmt.Errorf("get peer record: %w", err)
	}
	var rec PeerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal peer record: %w", err)
	}
	return &rec, nil
}

// LoadAll returns all persisted peer records. Corrupt records are skipped.
func (ps *PeerStore) LoadAll() ([]PeerRecord, error) {
	var records []PeerRecord
	err := ps.db.ForEach(nil, func(_, value []byte) error {
		var rec PeerRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate peer records: %w", err)
	}
	return records, nil
}

// Delete removes a peer record.
func (ps *PeerStore) Delete(id peer.ID) error {
	return ps.db.Delete([]byte(id.String()))
}

// PruneStale removes records last seen before now-threshold, plus any record
// that no longer decodes. Returns the number pruned.
func (ps *PeerStore) PruneStale(threshold time.Duration) (int, error) {
	cutoff := ps.now().Add(-threshold).Unix()
	batch := ps.db.NewBatch()
	pruned := 0

	err := ps.db.ForEach(nil, func(key, value []byte) error {
		var rec PeerRecord
		if err := json.Unmarshal(value, &rec); err != nil || rec.LastSeen < cutoff {
			pruned++
			return batch.Delete(key)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("iterate for prune: %w", err)
	}
	if pruned == 0 {
		return 0, nil
	}
	if err := batch.Commit(); err != nil {
		return 0, fmt.Errorf("delete stale peers: %w", err)
	}
	return pruned, nil
}

// Count returns the number of persisted peer records.
func (ps *PeerStore) Count() (int, error) {
	count := 0
	err := ps.db.ForEach(nil, func(_, _ []byte) error {
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count peers: %w", err)
	}
	return count, nil
}

// Clear removes every persisted peer record.
func (ps *PeerStore) Clear() error {
	return ps.db.DeleteAll()
}

// --- Node persistence ---

func (n *Node) persistPeers() {
	if n.peerStore == nil || n.host == nil {
		return
	}

	snapshot := n.PeerList()
	now := n.peerStore.now().Unix()
	saved := 0
	for _, p := range snapshot {
		addrs := n.host.Peerstore().Addrs(p.ID)
		if len(addrs) == 0 {
			continue
		}
		addrStrs := make([]string, len(addrs))
		for i, a := range addrs {
			addrStrs[i] = a.String()
		}
		rec := PeerRecord{
			ID:       p.ID.String(),
			Addrs:    addrStrs,
			LastSeen: now,
			Source:   p.Source,
		}
		if err := n.peerStore.Save(rec); err != nil {
			klog.P2P.Debug().Err(err).Str("peer", shortID(p.ID)).Msg("Persist peer failed")
			continue
		}
		saved++
	}
	klog.P2P.Debug().Int("peers", saved).Msg("Peers persisted")
}

// recordAddrInfo rebuilds an AddrInfo from a stored record, skipping
// addresses that no longer parse.
func recordAddrInfo(rec PeerRecord) (peer.AddrInfo, error) {
	id, err := peer.Decode(rec.ID)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("decode peer id: %w", err)
	}
	info := peer.AddrInfo{ID: id}
	for _, s := range rec.Addrs {
		addr, err := ma.NewMultiaddr(s)
		if err != nil {
			continue
		}
		info.Addrs = append(info.Addrs, addr)
	}
	return info, nil
}

func (n *Node) loadPersistedPeers() {
	defer n.wg.Done()
	if n.peerStore == nil {
		return
	}

	if pruned, err := n.peerStore.PruneStale(staleThreshold); err == nil && pruned > 0 {
		klog.P2P.Debug().Int("pruned", pruned).Msg("Pruned stale peers")
	}

	records, err := n.peerStore.LoadAll()
	if err != nil {
		klog.P2P.Warn().Err(err).Msg("Load persisted peers failed")
		return
	}

	for _, rec := range records {
		if n.ctx.Err() != nil {
			return
		}
		info, err := recordAddrInfo(rec)
		if err != nil {
			continue
		}
		n.connectDiscovered(info, SourceStore)
	}
}

func (n *Node) runPersistLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(persistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.persistPeers()
			_, _ = n.peerStore.PruneStale(staleThreshold)
		}
	}
}

package rpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"

	"github.com/wfunc/playersync/engine"
	"github.com/wfunc/playersync/logger"
	"github.com/wfunc/playersync/models"
	"github.com/wfunc/playersync/persistence"
	"gorm.io/gorm"
)

// Server manages the RPC listener for operator tooling.
type Server struct {
	listener net.Listener
	address  string
}

// NewServer creates a new RPC server.
func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  addr,
	}, nil
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Check if the error is due to the listener being closed.
			if _, ok := err.(*net.OpError); ok {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// SyncService exposes read-only operator methods over net/rpc.
type SyncService struct {
	store   persistence.Store
	archive *persistence.ArchiveStore
}

// NewSyncService creates a new SyncService. The archive store may be nil
// when the service runs without a raw ops connection (tests, sqlite).
func NewSyncService(store persistence.Store, archive *persistence.ArchiveStore) *SyncService {
	return &SyncService{store: store, archive: archive}
}

type GetPlayerArgs struct {
	SteamID string
}

type GetPlayerReply struct {
	Document *models.PlayerDocument
}

// GetPlayerDocument returns the full exported document for one player.
func (svc *SyncService) GetPlayerDocument(args *GetPlayerArgs, reply *GetPlayerReply) error {
	var agg *models.PlayerAggregate
	err := svc.store.Transaction(func(tx *gorm.DB) error {
		var err error
		agg, err = svc.store.FindPlayerAggregate(tx, args.SteamID)
		return err
	})
	if err != nil {
		return err
	}
	reply.Document = engine.BuildDocument(agg, true)
	return nil
}

type ListFlaggedArgs struct {
	Limit int
}

type ListFlaggedReply struct {
	Entries []models.AuditEntry
}

// ListFlaggedAudits returns the most recent flagged audit entries.
func (svc *SyncService) ListFlaggedAudits(args *ListFlaggedArgs, reply *ListFlaggedReply) error {
	limit := args.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if svc.archive == nil {
		return errors.New("flagged audit listing unavailable: no archive store")
	}
	entries, err := svc.archive.ListFlaggedAudits(context.Background(), limit)
	if err != nil {
		return err
	}
	reply.Entries = entries
	return nil
}

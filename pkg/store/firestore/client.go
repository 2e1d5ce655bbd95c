// Copyright 2025 Nanomoni Authors
//
// Package firestore is the Firestore/Firebase-backed implementation of
// pkg/store.Store, an alternate cloud deployment profile to the postgres
// backend. When disabled, every operation is a documented no-op so a
// service can run locally without GCP credentials configured.
package firestore

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	gcpfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"github.com/nanomoni/channels/pkg/proofcore"
	"github.com/nanomoni/channels/pkg/store"
)

// Client wraps the Firestore client with this service's collection layout:
// /accounts/{publicKeyHex}, /channels/{channelID}, and
// /channels/{channelID}/state/current for the channel's best payment.
type Client struct {
	app       *firebase.App
	firestore *gcpfirestore.Client
	projectID string
	logger    *log.Logger
	enabled   bool
	mu        sync.RWMutex
}

// ClientConfig holds configuration for the Firestore client.
type ClientConfig struct {
	// ProjectID is the Firebase/GCP project ID.
	ProjectID string

	// CredentialsFile is the path to the service account JSON file. If
	// empty, uses GOOGLE_APPLICATION_CREDENTIALS environment variable.
	CredentialsFile string

	// Enabled controls whether Firestore operations are actually
	// performed. If false, all operations are no-ops (useful for local
	// development).
	Enabled bool

	// Logger for client operations.
	Logger *log.Logger
}

// DefaultConfig returns a ClientConfig with values from environment variables.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		ProjectID:       os.Getenv("FIREBASE_PROJECT_ID"),
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		Enabled:         getEnvBool("FIRESTORE_ENABLED", false),
		Logger:          log.New(os.Stdout, "[Firestore] ", log.LstdFlags),
	}
}

// NewClient creates a new Firestore client.
func NewClient(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[Firestore] ", log.LstdFlags)
	}

	client := &Client{
		projectID: cfg.ProjectID,
		logger:    cfg.Logger,
		enabled:   cfg.Enabled,
	}

	if !cfg.Enabled {
		cfg.Logger.Println("Firestore sync is DISABLED - running in no-op mode")
		return client, nil
	}

	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("FIREBASE_PROJECT_ID is required when Firestore is enabled")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	firestoreClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	client.app = app
	client.firestore = firestoreClient

	cfg.Logger.Printf("Firestore client initialized for project: %s", cfg.ProjectID)
	return client, nil
}

// IsEnabled returns whether Firestore sync is enabled.
func (c *Client) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// Close closes the Firestore client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.firestore != nil {
		return c.firestore.Close()
	}
	return nil
}

var _ store.Store = (*Client)(nil)

type accountDoc struct {
	Balance      int64     `firestore:"balance"`
	RegisteredAt time.Time `firestore:"registeredAt"`
}

type channelDoc struct {
	ClientPublicKey []byte    `firestore:"clientPublicKey"`
	VendorPublicKey []byte    `firestore:"vendorPublicKey"`
	Amount          int64     `firestore:"amount"`
	UnitValue       int64     `firestore:"unitValue"`
	Scheme          int       `firestore:"scheme"`
	CommitmentRoot  []byte    `firestore:"commitmentRoot"`
	MaxIndex        int       `firestore:"maxIndex"`
	OpenedAt        time.Time `firestore:"openedAt"`
	Settled         bool      `firestore:"settled"`
	SettledAt       time.Time `firestore:"settledAt,omitempty"`
}

type paymentStateDoc struct {
	Index          int       `firestore:"index"`
	CumulativeOwed int64     `firestore:"cumulativeOwed"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

// PutAccount writes or overwrites an account document.
func (c *Client) PutAccount(ctx context.Context, acc store.AccountRecord) error {
	if !c.IsEnabled() {
		c.logger.Printf("Firestore disabled - skipping account write for %s", acc.PublicKeyHex)
		return nil
	}
	_, err := c.firestore.Collection("accounts").Doc(acc.PublicKeyHex).Set(ctx, accountDoc{
		Balance:      acc.Balance,
		RegisteredAt: acc.RegisteredAt,
	})
	if err != nil {
		return fmt.Errorf("firestore: put account: %w", err)
	}
	return nil
}

// GetAccount reads an account document.
func (c *Client) GetAccount(ctx context.Context, publicKeyHex string) (store.AccountRecord, error) {
	if !c.IsEnabled() {
		return store.AccountRecord{}, store.ErrNotFound
	}
	snap, err := c.firestore.Collection("accounts").Doc(publicKeyHex).Get(ctx)
	if err != nil {
		return store.AccountRecord{}, store.ErrNotFound
	}
	var doc accountDoc
	if err := snap.DataTo(&doc); err != nil {
		return store.AccountRecord{}, fmt.Errorf("firestore: decode account: %w", err)
	}
	return store.AccountRecord{
		PublicKeyHex: publicKeyHex,
		Balance:      doc.Balance,
		RegisteredAt: doc.RegisteredAt,
	}, nil
}

// PutChannel writes or overwrites a channel document.
func (c *Client) PutChannel(ctx context.Context, ch store.ChannelRecord) error {
	if !c.IsEnabled() {
		c.logger.Printf("Firestore disabled - skipping channel write for %s", ch.ID)
		return nil
	}
	doc := channelDoc{
		ClientPublicKey: ch.ClientPublicKey,
		VendorPublicKey: ch.VendorPublicKey,
		Amount:          ch.Amount,
		UnitValue:       ch.UnitValue,
		Scheme:          int(ch.Scheme),
		CommitmentRoot:  ch.CommitmentRoot,
		MaxIndex:        ch.MaxIndex,
		OpenedAt:        ch.OpenedAt,
		Settled:         ch.Settled,
	}
	if ch.SettledAt != nil {
		doc.SettledAt = *ch.SettledAt
	}
	_, err := c.firestore.Collection("channels").Doc(ch.ID).Set(ctx, doc)
	if err != nil {
		return fmt.Errorf("firestore: put channel: %w", err)
	}
	return nil
}

// GetChannel reads a channel document.
func (c *Client) GetChannel(ctx context.Context, channelID string) (store.ChannelRecord, error) {
	if !c.IsEnabled() {
		return store.ChannelRecord{}, store.ErrNotFound
	}
	snap, err := c.firestore.Collection("channels").Doc(channelID).Get(ctx)
	if err != nil {
		return store.ChannelRecord{}, store.ErrNotFound
	}
	var doc channelDoc
	if err := snap.DataTo(&doc); err != nil {
		return store.ChannelRecord{}, fmt.Errorf("firestore: decode channel: %w", err)
	}
	ch := store.ChannelRecord{
		ID:              channelID,
		ClientPublicKey: doc.ClientPublicKey,
		VendorPublicKey: doc.VendorPublicKey,
		Amount:          doc.Amount,
		UnitValue:       doc.UnitValue,
		Scheme:          proofcore.Scheme(doc.Scheme),
		CommitmentRoot:  doc.CommitmentRoot,
		MaxIndex:        doc.MaxIndex,
		OpenedAt:        doc.OpenedAt,
		Settled:         doc.Settled,
	}
	if doc.Settled {
		settledAt := doc.SettledAt
		ch.SettledAt = &settledAt
	}
	return ch, nil
}

// MarkChannelSettled flips a channel document's settled flag.
func (c *Client) MarkChannelSettled(ctx context.Context, channelID string, settledAt time.Time) error {
	if !c.IsEnabled() {
		c.logger.Printf("Firestore disabled - skipping settle mark for %s", channelID)
		return nil
	}
	_, err := c.firestore.Collection("channels").Doc(channelID).Set(ctx, map[string]interface{}{
		"settled":   true,
		"settledAt": settledAt,
	}, gcpfirestore.MergeAll)
	if err != nil {
		return fmt.Errorf("firestore: mark channel settled: %w", err)
	}
	return nil
}

// PutPaymentState writes a channel's current best payment state.
func (c *Client) PutPaymentState(ctx context.Context, state store.PaymentStateRecord) error {
	if !c.IsEnabled() {
		c.logger.Printf("Firestore disabled - skipping payment state write for %s", state.ChannelID)
		return nil
	}
	docPath := c.firestore.Collection("channels").Doc(state.ChannelID).Collection("state").Doc("current")
	_, err := docPath.Set(ctx, paymentStateDoc{
		Index:          state.Index,
		CumulativeOwed: state.CumulativeOwed,
		UpdatedAt:      state.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("firestore: put payment state: %w", err)
	}
	return nil
}

// GetPaymentState reads a channel's current best payment state.
func (c *Client) GetPaymentState(ctx context.Context, channelID string) (store.PaymentStateRecord, error) {
	if !c.IsEnabled() {
		return store.PaymentStateRecord{}, store.ErrNotFound
	}
	snap, err := c.firestore.Collection("channels").Doc(channelID).Collection("state").Doc("current").Get(ctx)
	if err != nil {
		return store.PaymentStateRecord{}, store.ErrNotFound
	}
	var doc paymentStateDoc
	if err := snap.DataTo(&doc); err != nil {
		return store.PaymentStateRecord{}, fmt.Errorf("firestore: decode payment state: %w", err)
	}
	return store.PaymentStateRecord{
		ChannelID:      channelID,
		Index:          doc.Index,
		CumulativeOwed: doc.CumulativeOwed,
		UpdatedAt:      doc.UpdatedAt,
	}, nil
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val == "true" || val == "1" || val == "yes"
}

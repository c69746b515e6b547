// Seed writes a demo room into the configured store, for local frontend
// development against a non-empty backend.
package main

import (
	"context"
	"flag"
	"log"

	"coscribe/internal/config"
	"coscribe/internal/models"
	"coscribe/internal/store"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	roomID := flag.String("room", "demo", "room id to seed")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	ctx := context.Background()

	var (
		st  store.RoomStore
		err error
	)
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pool, poolErr := store.CreateConnectionPool(ctx, cfg.DatabaseURL)
		if poolErr != nil {
			log.Fatalf("connect postgres: %v", poolErr)
		}
		defer pool.Close()
		st, err = store.NewPostgresStore(ctx, pool, cfg.TablePrefix)
	default:
		st, err = store.NewRedisStore(cfg.RedisURL)
	}
	if err != nil {
		log.Fatalf("connect store: %v", err)
	}
	defer st.Close()

	state := demoState()
	if err := st.SaveRoomState(ctx, *roomID, state); err != nil {
		log.Fatalf("seed room %s: %v", *roomID, err)
	}
	log.Printf("seeded room %q with %d sections and %d dependencies",
		*roomID, len(state.Sections), len(state.Dependencies))
}

func demoState() *models.RoomState {
	state := models.NewRoomState()

	intro := models.SectionNode{
		ID:       uuid.NewString(),
		Kind:     models.SectionKindIntent,
		Content:  "Introduce the problem and why it matters",
		Position: 0,
	}
	background := models.SectionNode{
		ID:       uuid.NewString(),
		Kind:     models.SectionKindIntent,
		Content:  "Survey prior approaches",
		ParentID: &intro.ID,
		Position: 0,
		Level:    1,
	}
	draft := models.SectionNode{
		ID:       uuid.NewString(),
		Kind:     models.SectionKindWriting,
		Content:  "Opening draft",
		Position: 1,
	}
	state.Sections = append(state.Sections, intro, background, draft)

	state.Dependencies = append(state.Dependencies, models.DependencyEdge{
		ID:            uuid.NewString(),
		FromSectionID: background.ID,
		ToSectionID:   intro.ID,
		Label:         "expands on",
		Direction:     models.DirectionDirected,
		Confirmed:     true,
	})
	return state
}

// smoke-scope exercises the isolation core end to end without a server:
// it opens and disposes scopes in a tight loop, then interleaves work for
// two children and fails loudly if either scope ever observes the other
// child's identity or data.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"kidsgate.org/internal/audit"
	"kidsgate.org/internal/capability"
	"kidsgate.org/internal/coordinator"
	"kidsgate.org/internal/obs"
	"kidsgate.org/internal/profile"
	"kidsgate.org/internal/ratelimit"
	"kidsgate.org/internal/scope"
	"kidsgate.org/internal/secure"
)

const (
	capAuth = "auth"
	capData = "data"
	capAI   = "ai"
)

func main() {
	obs.Init()

	alice := profile.Profile{ID: "child-1", FirstName: "Alice", LastName: "Example"}
	bob := profile.Profile{ID: "child-2", FirstName: "Bob", LastName: "Example"}

	auditLog := audit.NewLog()
	limiter := ratelimit.New(ratelimit.WithFallback(ratelimit.Rule{Limit: 10_000, Window: time.Minute}))
	pipeline, err := secure.NewPipeline(secure.NewValidator(secure.DefaultCatalog()), limiter, auditLog)
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}

	authClient, err := capability.NewPortalAuth("smoke-secret")
	if err != nil {
		log.Fatalf("portal auth: %v", err)
	}
	dataClient := capability.NewMemoryData()
	aiClient := &capability.StaticAI{SummaryPrefix: "Zusammenfassung: ", AnswerPrefix: "Antwort: "}
	sanitizer := secure.NewSanitizer()

	reg := scope.NewRegistry()
	reg.MustRegister(capAuth, func(r *scope.Resolver) (any, error) {
		return secure.NewSecureAuth(pipeline, authClient, r.Context()), nil
	})
	reg.MustRegister(capData, func(r *scope.Resolver) (any, error) {
		return secure.NewSecureData(pipeline, dataClient, r.Context()), nil
	})
	reg.MustRegister(capAI, func(r *scope.Resolver) (any, error) {
		return secure.NewSecureAI(pipeline, aiClient, sanitizer, r.Context()), nil
	})

	coord, err := coordinator.New(reg, []profile.Profile{alice, bob})
	if err != nil {
		log.Fatalf("coordinator: %v", err)
	}

	// Phase 1: repeated create/use/dispose cycles for one child.
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("reminder/cycle-%d", i)
		err := coord.ExecuteInScope(context.Background(), alice.ID, func(ctx context.Context, r *scope.Resolver) error {
			data, err := scope.Resolve[*secure.SecureData](r, capData)
			if err != nil {
				return err
			}
			if _, err := data.WriteReminder(ctx, key, "cycle"); err != nil {
				return err
			}
			return data.DeleteData(ctx, key)
		})
		if err != nil {
			log.Fatalf("cycle %d: %v", i, err)
		}
	}
	log.Println("phase 1 ok: 1000 scope cycles")

	// Phase 2: interleaved sessions for two children with jittered delays.
	const rounds = 200
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	run := func(p profile.Profile, seed int64) {
		defer wg.Done()
		rng := rand.New(rand.NewSource(seed))
		for i := 0; i < rounds; i++ {
			err := coord.ExecuteInScope(context.Background(), p.ID, func(ctx context.Context, r *scope.Resolver) error {
				auth, err := scope.Resolve[*secure.SecureAuth](r, capAuth)
				if err != nil {
					return err
				}
				session, err := auth.Login(ctx)
				if err != nil {
					return err
				}
				if session.ProfileID != p.ID {
					return fmt.Errorf("session for %s issued to %s", p.ID, session.ProfileID)
				}

				data, err := scope.Resolve[*secure.SecureData](r, capData)
				if err != nil {
					return err
				}
				key := fmt.Sprintf("letter/%s-%d", p.ID, i)
				if _, err := data.WriteReminder(ctx, key, "Brief fuer "+p.FirstName); err != nil {
					return err
				}
				time.Sleep(time.Duration(rng.Intn(500)) * time.Microsecond)

				got, err := data.ReadLetter(ctx, key)
				if err != nil {
					return err
				}
				if got.ProfileID != p.ID {
					return fmt.Errorf("artifact for %s owned by %s", p.ID, got.ProfileID)
				}

				bound, err := r.Context().Current()
				if err != nil {
					return err
				}
				if bound.ID != p.ID {
					return fmt.Errorf("scope for %s bound to %s", p.ID, bound.ID)
				}
				return auth.Logout(ctx, session.ID)
			})
			if err != nil {
				errs <- fmt.Errorf("%s round %d: %w", p.FirstName, i, err)
				return
			}
		}
	}

	wg.Add(2)
	go run(alice, time.Now().UnixNano())
	go run(bob, time.Now().UnixNano()+9973)
	wg.Wait()
	close(errs)
	for err := range errs {
		log.Fatalf("isolation violated: %v", err)
	}
	log.Printf("phase 2 ok: %d interleaved rounds per child", rounds)

	// Phase 3: trail spot checks. Every entry for a child must name only
	// that child, and both trails must be non-empty.
	now := time.Now().Add(time.Hour)
	for _, p := range []profile.Profile{alice, bob} {
		trail := auditLog.Trail(p.Name(), time.Time{}, now)
		if len(trail) == 0 {
			log.Fatalf("empty audit trail for %s", p.Name())
		}
		for _, e := range trail {
			if e.Profile != p.Name() {
				log.Fatalf("trail for %s contains entry for %s", p.Name(), e.Profile)
			}
		}
	}
	log.Printf("phase 3 ok: %d audit entries total", auditLog.Len())

	fmt.Println("scope smoke test passed")
}

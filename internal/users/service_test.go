package users

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/condogate/condogate/internal/authz"
	"github.com/condogate/condogate/internal/shared"
)

type stubRepo struct {
	users  map[int64]authz.Actor
	nextID int64
}

func newStubRepo() *stubRepo {
	return &stubRepo{users: make(map[int64]authz.Actor), nextID: 1}
}

func (s *stubRepo) put(actor authz.Actor) {
	s.users[actor.ID] = actor
	if actor.ID >= s.nextID {
		s.nextID = actor.ID + 1
	}
}

func (s *stubRepo) List(_ context.Context, _ ListFilters) ([]authz.Actor, int64, error) {
	var out []authz.Actor
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, int64(len(out)), nil
}

func (s *stubRepo) Find(_ context.Context, id int64) (authz.Actor, error) {
	u, ok := s.users[id]
	if !ok {
		return authz.Actor{}, shared.ErrNotFound
	}
	return u, nil
}

func (s *stubRepo) Create(_ context.Context, in Input) (authz.Actor, error) {
	for _, u := range s.users {
		if u.Username == in.Username {
			return authz.Actor{}, shared.ErrDuplicate
		}
	}
	actor := authz.Actor{ID: s.nextID, Username: in.Username, Email: in.Email, Active: in.Active}
	s.nextID++
	s.users[actor.ID] = actor
	return actor, nil
}

func (s *stubRepo) Update(_ context.Context, id int64, in Input) (authz.Actor, error) {
	u, ok := s.users[id]
	if !ok {
		return authz.Actor{}, shared.ErrNotFound
	}
	u.Username = in.Username
	u.Email = in.Email
	u.Phone = in.Phone
	u.Active = in.Active
	s.users[id] = u
	return u, nil
}

func (s *stubRepo) Delete(_ context.Context, id int64) error {
	if _, ok := s.users[id]; !ok {
		return shared.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *stubRepo) Statistics(context.Context) (Stats, error) {
	return Stats{Total: int64(len(s.users))}, nil
}

func (s *stubRepo) ListByAdministrative(_ context.Context, administrative bool) ([]authz.Actor, error) {
	var out []authz.Actor
	for _, u := range s.users {
		if u.Active && u.Role != nil && u.Role.Administrative == administrative {
			out = append(out, u)
		}
	}
	return out, nil
}

func newTestService() (*Service, *stubRepo) {
	repo := newStubRepo()
	return NewService(slog.New(slog.NewTextHandler(io.Discard, nil)), repo, nil), repo
}

func privilegedViewer() *authz.Actor {
	return &authz.Actor{
		ID:     1,
		Active: true,
		Role:   &authz.Role{Administrative: true, Permissions: authz.NewPermissionSet(authz.PermUsersView)},
	}
}

func plainViewer(id int64) *authz.Actor {
	return &authz.Actor{ID: id, Active: true, Role: &authz.Role{}}
}

func TestListNarrowsToSelfWithoutPermission(t *testing.T) {
	svc, repo := newTestService()
	repo.put(authz.Actor{ID: 5, Username: "residente", Active: true})
	repo.put(authz.Actor{ID: 6, Username: "vecino", Active: true})

	list, total, err := svc.List(context.Background(), plainViewer(5), ListFilters{Page: 1, PerPage: 20})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(list) != 1 || list[0].ID != 5 {
		t.Fatalf("expected self-only view, got total=%d list=%+v", total, list)
	}
}

func TestListFullViewWithPermission(t *testing.T) {
	svc, repo := newTestService()
	repo.put(authz.Actor{ID: 5, Username: "residente"})
	repo.put(authz.Actor{ID: 6, Username: "vecino"})

	_, total, err := svc.List(context.Background(), privilegedViewer(), ListFilters{Page: 1, PerPage: 20})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected full view, got total=%d", total)
	}
}

func TestFindOtherUserDeniedWithoutPermission(t *testing.T) {
	svc, repo := newTestService()
	repo.put(authz.Actor{ID: 6, Username: "vecino"})

	_, err := svc.Find(context.Background(), plainViewer(5), 6)
	if !errors.Is(err, shared.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if _, err := svc.Find(context.Background(), plainViewer(6), 6); err != nil {
		t.Fatalf("self lookup should pass: %v", err)
	}
}

func TestCreateHashesPassword(t *testing.T) {
	svc, _ := newTestService()
	actor, err := svc.Create(context.Background(), Input{Username: "nuevo", Email: "n@x.com", Active: true}, "secreto123")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if actor.ID == 0 {
		t.Fatal("expected assigned id")
	}
}

func TestPatchKeepsUnsetFields(t *testing.T) {
	svc, repo := newTestService()
	repo.put(authz.Actor{ID: 5, Username: "residente", Email: "res@x.com", Active: true})

	phone := "70001234"
	actor, err := svc.Patch(context.Background(), 5, Patch{Phone: &phone})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if actor.Phone != "70001234" {
		t.Fatalf("expected phone updated, got %q", actor.Phone)
	}
	if actor.Username != "residente" || actor.Email != "res@x.com" || !actor.Active {
		t.Fatalf("unset fields must keep stored values, got %+v", actor)
	}
}

func TestDeleteSelfForbidden(t *testing.T) {
	svc, repo := newTestService()
	repo.put(authz.Actor{ID: 1, Username: "admin"})

	err := svc.Delete(context.Background(), privilegedViewer(), 1)
	if !errors.Is(err, shared.ErrPermissionDenied) {
		t.Fatalf("expected permission denied deleting own account, got %v", err)
	}
}

func TestAvailablePickersSplitByRoleKind(t *testing.T) {
	svc, repo := newTestService()
	repo.put(authz.Actor{ID: 1, Username: "guardia", Active: true, Role: &authz.Role{Administrative: true}})
	repo.put(authz.Actor{ID: 2, Username: "residente", Active: true, Role: &authz.Role{Administrative: false}})
	repo.put(authz.Actor{ID: 3, Username: "inactivo", Active: false, Role: &authz.Role{Administrative: false}})

	staff, err := svc.AvailableStaff(context.Background())
	if err != nil || len(staff) != 1 || staff[0].Username != "guardia" {
		t.Fatalf("unexpected staff: %+v err=%v", staff, err)
	}
	residents, err := svc.AvailableResidents(context.Background())
	if err != nil || len(residents) != 1 || residents[0].Username != "residente" {
		t.Fatalf("unexpected residents: %+v err=%v", residents, err)
	}
}

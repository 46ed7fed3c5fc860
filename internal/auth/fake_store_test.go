package auth

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

type fakeStore struct {
	mu        sync.Mutex
	employees map[string]*Employee
	findErrs  []error
	// writeErrs are returned once each by the named write before it runs.
	writeErrs map[string][]error
	// lostAcks are returned once each by Create after the insert is stored.
	lostAcks []error
}

func newFakeStore() *fakeStore {
	return &fakeStore{employees: map[string]*Employee{}, writeErrs: map[string][]error{}}
}

func (f *fakeStore) failWrite(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErrs[op] = append(f.writeErrs[op], errs...)
}

func (f *fakeStore) takeWriteErr(op string) error {
	queue := f.writeErrs[op]
	if len(queue) == 0 {
		return nil
	}
	f.writeErrs[op] = queue[1:]
	return queue[0]
}

func (f *fakeStore) FindByEmail(_ context.Context, email string) (*Employee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.findErrs) > 0 {
		err := f.findErrs[0]
		f.findErrs = f.findErrs[1:]
		return nil, err
	}
	e, ok := f.employees[email]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (f *fakeStore) Create(_ context.Context, employee *Employee) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeWriteErr("create"); err != nil {
		return err
	}
	if _, ok := f.employees[employee.Email]; ok {
		return ErrEmailTaken
	}
	cp := *employee
	f.employees[employee.Email] = &cp
	if len(f.lostAcks) > 0 {
		err := f.lostAcks[0]
		f.lostAcks = f.lostAcks[1:]
		return err
	}
	return nil
}

func (f *fakeStore) UpdateProfile(_ context.Context, email string, update ProfileUpdate) (*Employee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeWriteErr("update_profile"); err != nil {
		return nil, err
	}
	e, ok := f.employees[email]
	if !ok {
		return nil, nil
	}
	if update.Name != nil {
		e.Name = *update.Name
	}
	if update.Role != nil {
		e.Role = *update.Role
	}
	if update.Industry != nil {
		e.Industry = *update.Industry
	}
	if update.Domain != nil {
		e.Domain = *update.Domain
	}
	e.UpdatedAt = time.Now().UTC()
	cp := *e
	return &cp, nil
}

func (f *fakeStore) SetPassword(_ context.Context, email, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeWriteErr("set_password"); err != nil {
		return err
	}
	e, ok := f.employees[email]
	if !ok {
		return mongo.ErrNoDocuments
	}
	e.PasswordHash = passwordHash
	e.ResetToken = ""
	return nil
}

func (f *fakeStore) SetResetToken(_ context.Context, email, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeWriteErr("set_reset_token"); err != nil {
		return err
	}
	e, ok := f.employees[email]
	if !ok {
		return mongo.ErrNoDocuments
	}
	e.ResetToken = token
	return nil
}

func (f *fakeStore) List(_ context.Context) ([]*Employee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Employee, 0, len(f.employees))
	for _, e := range f.employees {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

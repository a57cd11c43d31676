// Package route parses destination specifiers into concrete next hops.
package route

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"creditgrid/internal/models"
	"creditgrid/internal/storage"
)

// ErrInvalidDestination marks a malformed destination or a missing or
// wrong-direction interface.
var ErrInvalidDestination = errors.New("route: invalid destination")

// Directory is the subset of the store the resolver needs.
type Directory interface {
	UserByName(ctx context.Context, name string) (int64, error)
	InstanceByID(ctx context.Context, id int64) (*models.Instance, error)
	InstanceByName(ctx context.Context, owner int64, name string) (*models.Instance, error)
	InterfaceByName(ctx context.Context, instance int64, name string, dir models.Direction) (*models.Interface, error)
}

// Resolver turns destination specifiers into Steps.
//
// Grammar: [OWNER+]INSTANCE+INTERFACE[@ignored-suffix]. The two-part form
// requires a numeric instance id; the three-part form resolves OWNER (id or
// user name) and INSTANCE (id, or instance name scoped to that owner).
type Resolver struct {
	dir Directory
}

// NewResolver builds a resolver over the given directory.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve parses destination and validates that the target interface exists
// on the resolved instance with the requested direction: input when
// delivering into a connector, output when originating. The returned Step's
// From side is taken from prev's To side (zero on the first hop).
func (r *Resolver) Resolve(ctx context.Context, prev *models.Step, destination string, wantInput bool) (*models.Step, error) {
	parts := strings.Split(destination, "+")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDestination, destination)
	}

	ifaceName := parts[len(parts)-1]
	if at := strings.IndexByte(ifaceName, '@'); at >= 0 {
		ifaceName = ifaceName[:at]
	}
	if ifaceName == "" {
		return nil, fmt.Errorf("%w: %q: empty interface", ErrInvalidDestination, destination)
	}

	var instance *models.Instance
	var err error
	switch len(parts) {
	case 2:
		instance, err = r.resolveBare(ctx, parts[0])
	case 3:
		instance, err = r.resolveOwned(ctx, parts[0], parts[1])
	}
	if err != nil {
		return nil, err
	}

	dir := models.DirectionOutput
	if wantInput {
		dir = models.DirectionInput
	}
	iface, err := r.dir.InterfaceByName(ctx, instance.ID, ifaceName, dir)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: no %s interface %q on instance %d", ErrInvalidDestination, dir, ifaceName, instance.ID)
		}
		return nil, fmt.Errorf("route: resolve interface: %w", err)
	}

	step := &models.Step{
		ToInstance:  instance.ID,
		ToInterface: iface.Name,
		SentAt:      time.Now().UTC(),
	}
	if prev != nil {
		step.FromInstance = prev.ToInstance
		step.FromInterface = prev.ToInterface
	}
	return step, nil
}

// resolveBare handles the two-part form: the instance must be a numeric id.
func (r *Resolver) resolveBare(ctx context.Context, rawInstance string) (*models.Instance, error) {
	id, err := strconv.ParseInt(rawInstance, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: instance %q is not numeric", ErrInvalidDestination, rawInstance)
	}
	instance, err := r.dir.InstanceByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown instance %d", ErrInvalidDestination, id)
		}
		return nil, fmt.Errorf("route: resolve instance: %w", err)
	}
	return instance, nil
}

// resolveOwned handles the three-part form.
func (r *Resolver) resolveOwned(ctx context.Context, rawOwner, rawInstance string) (*models.Instance, error) {
	ownerRef := ParseEntityRef(rawOwner)
	owner := ownerRef.ID()
	if !ownerRef.ByID() {
		var err error
		owner, err = r.dir.UserByName(ctx, ownerRef.Name())
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown owner %q", ErrInvalidDestination, rawOwner)
			}
			return nil, fmt.Errorf("route: resolve owner: %w", err)
		}
	}

	instRef := ParseEntityRef(rawInstance)
	var instance *models.Instance
	var err error
	if instRef.ByID() {
		instance, err = r.dir.InstanceByID(ctx, instRef.ID())
	} else {
		instance, err = r.dir.InstanceByName(ctx, owner, instRef.Name())
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown instance %q for owner %d", ErrInvalidDestination, rawInstance, owner)
		}
		return nil, fmt.Errorf("route: resolve instance: %w", err)
	}
	if instance.OwnerID != owner {
		return nil, fmt.Errorf("%w: instance %d not owned by %d", ErrInvalidDestination, instance.ID, owner)
	}
	return instance, nil
}

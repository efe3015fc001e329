package services

import (
	"context"
	"log"
	"sort"
	"sync"

	"bazaar/internal/models"
	"bazaar/internal/treestore"
)

// AdminService exposes the full-collection operations behind the admin
// console. It shares the tree store with StoreService instead of keeping
// its own path access.
type AdminService struct {
	store  treestore.Store
	events EventPublisher
}

func NewAdminService(store treestore.Store, events EventPublisher) *AdminService {
	return &AdminService{store: store, events: events}
}

// GetAllOrders flattens orders/{userId}/{orderId} into one list, each
// order annotated with its owner and id. An empty collection is an empty
// list with success=true.
func (s *AdminService) GetAllOrders(ctx context.Context) models.Result[[]models.Order] {
	snap, err := s.store.Read(ctx, treestore.OrdersRoot)
	if err != nil {
		log.Printf("admin: failed to read orders: %v", err)
		return models.Fail[[]models.Order](err.Error())
	}
	orders, err := flattenOrders(snap)
	if err != nil {
		log.Printf("admin: corrupt order collection: %v", err)
		return models.Fail[[]models.Order](err.Error())
	}
	return models.OK(orders)
}

// GetAllUsers returns the raw keyed profile collection; absence is an
// empty map.
func (s *AdminService) GetAllUsers(ctx context.Context) models.Result[map[string]models.Profile] {
	snap, err := s.store.Read(ctx, treestore.UsersRoot)
	if err != nil {
		log.Printf("admin: failed to read users: %v", err)
		return models.Fail[map[string]models.Profile](err.Error())
	}
	users := map[string]models.Profile{}
	if err := snap.Decode(&users); err != nil {
		log.Printf("admin: corrupt user collection: %v", err)
		return models.Fail[map[string]models.Profile](err.Error())
	}
	return models.OK(users)
}

// GetStats composes the user and order collections into the derived
// statistics view. The two fetches populate disjoint fields, so they run
// concurrently and join. A missing order total counts as zero.
func (s *AdminService) GetStats(ctx context.Context) models.Result[models.AdminStats] {
	var (
		wg        sync.WaitGroup
		usersRes  models.Result[map[string]models.Profile]
		ordersRes models.Result[[]models.Order]
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		usersRes = s.GetAllUsers(ctx)
	}()
	go func() {
		defer wg.Done()
		ordersRes = s.GetAllOrders(ctx)
	}()
	wg.Wait()

	if !usersRes.Success {
		return models.Fail[models.AdminStats](usersRes.Error)
	}
	if !ordersRes.Success {
		return models.Fail[models.AdminStats](ordersRes.Error)
	}

	stats := models.AdminStats{
		TotalUsers:  len(usersRes.Data),
		TotalOrders: len(ordersRes.Data),
		Users:       usersRes.Data,
		Orders:      ordersRes.Data,
	}
	for _, order := range ordersRes.Data {
		stats.TotalRevenue += order.Total
	}
	return models.OK(stats)
}

// UpdateOrderStatus merges the new status and an update timestamp into
// the order, leaving the other fields as they are.
func (s *AdminService) UpdateOrderStatus(ctx context.Context, userID, orderID, status string) models.Result[models.None] {
	partial := map[string]any{
		"status":    status,
		"updatedAt": timestamp(),
	}
	if err := s.store.Merge(ctx, treestore.OrderPath(userID, orderID), partial); err != nil {
		log.Printf("admin: failed to update status of order %s: %v", orderID, err)
		return models.Fail[models.None](err.Error())
	}

	res := models.Done()
	if s.events != nil {
		if err := s.events.OrderStatusChanged(userID, orderID, status); err != nil {
			log.Printf("admin: failed to publish order.status_changed for %s: %v", orderID, err)
			res.Warnings = append(res.Warnings, "не удалось опубликовать событие об изменении статуса")
		}
	}
	return res
}

func (s *AdminService) DeleteOrder(ctx context.Context, userID, orderID string) models.Result[models.None] {
	if err := s.store.Delete(ctx, treestore.OrderPath(userID, orderID)); err != nil {
		log.Printf("admin: failed to delete order %s: %v", orderID, err)
		return models.Fail[models.None](err.Error())
	}
	return models.Done()
}

// DeleteUser removes only the profile record. The user's cart and orders
// stay in place so the order history keeps its owner ids; reaping them is
// a separate administrative action.
func (s *AdminService) DeleteUser(ctx context.Context, userID string) models.Result[models.None] {
	if err := s.store.Delete(ctx, treestore.UserPath(userID)); err != nil {
		log.Printf("admin: failed to delete user %s: %v", userID, err)
		return models.Fail[models.None](err.Error())
	}
	log.Printf("admin: profile %s deleted; cart and orders are kept", userID)
	return models.Done()
}

// SetAdminRole grants the admin role to one user.
func (s *AdminService) SetAdminRole(ctx context.Context, userID string) models.Result[models.None] {
	partial := map[string]any{"role": models.RoleAdmin}
	if err := s.store.Merge(ctx, treestore.UserPath(userID), partial); err != nil {
		log.Printf("admin: failed to set admin role for %s: %v", userID, err)
		return models.Fail[models.None](err.Error())
	}
	return models.Done()
}

// GetUserRole resolves the stored role, defaulting to the plain user role
// on absence or on any failure. It never fails open to admin.
func (s *AdminService) GetUserRole(ctx context.Context, userID string) string {
	snap, err := s.store.Read(ctx, treestore.UserPath(userID)+"/role")
	if err != nil {
		log.Printf("admin: failed to read role of %s: %v", userID, err)
		return models.RoleUser
	}
	if !snap.Exists {
		return models.RoleUser
	}
	var role string
	if err := snap.Decode(&role); err != nil || role == "" {
		return models.RoleUser
	}
	return role
}

func (s *AdminService) IsAdmin(ctx context.Context, userID string) bool {
	return s.GetUserRole(ctx, userID) == models.RoleAdmin
}

// WatchAllOrders streams the flattened order list; absence delivers an
// empty list. The stop function must be called to release the stream.
func (s *AdminService) WatchAllOrders(ctx context.Context) (<-chan []models.Order, func(), error) {
	sub, err := s.store.Subscribe(ctx, treestore.OrdersRoot)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan []models.Order, watchBuffer)
	go func() {
		defer close(out)
		for snap := range sub.C {
			orders, err := flattenOrders(snap)
			if err != nil {
				log.Printf("admin: corrupt order collection on watch: %v", err)
				continue
			}
			push(out, orders)
		}
	}()
	return out, sub.Close, nil
}

// ChangeUserPassword reports the fixed unsupported result: changing
// another user's password needs elevated privileges this layer does not
// hold, so no call is attempted.
func (s *AdminService) ChangeUserPassword(userID string) models.Result[models.None] {
	log.Printf("admin: rejected password change for %s: requires elevated backend privilege", userID)
	res := models.Fail[models.None]("Изменение пароля другого пользователя требует повышенных привилегий на стороне сервера")
	res.Instruction = "Смена пароля выполняется только сервисом учетных записей с повышенными привилегиями. " +
		"Попросите пользователя воспользоваться восстановлением пароля по электронной почте " +
		"или обратитесь к оператору сервиса учетных записей."
	return res
}

func flattenOrders(snap treestore.Snapshot) ([]models.Order, error) {
	orders := []models.Order{}
	if !snap.Exists {
		return orders, nil
	}
	tree := map[string]map[string]models.Order{}
	if err := snap.Decode(&tree); err != nil {
		return nil, err
	}
	for userID, byID := range tree {
		for orderID, order := range byID {
			order.UserID = userID
			order.OrderID = orderID
			orders = append(orders, order)
		}
	}
	// Map iteration order is random; sort for a stable admin view.
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt != orders[j].CreatedAt {
			return orders[i].CreatedAt < orders[j].CreatedAt
		}
		if orders[i].UserID != orders[j].UserID {
			return orders[i].UserID < orders[j].UserID
		}
		return orders[i].OrderID < orders[j].OrderID
	})
	return orders, nil
}

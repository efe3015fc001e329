package services

import (
	"context"
	"log"

	"github.com/google/uuid"

	"bazaar/internal/models"
	"bazaar/internal/treestore"
)

const watchBuffer = 16

// StoreService is the single-identity storage layer: profile, cart and
// orders for one user. Reads follow the soft-miss policy — an absent
// record resolves to a default shell, not an error.
type StoreService struct {
	store  treestore.Store
	events EventPublisher
}

func NewStoreService(store treestore.Store, events EventPublisher) *StoreService {
	return &StoreService{store: store, events: events}
}

// SaveProfile merges the given fields into users/{id}. Fields left empty
// are not touched, so a stored role survives a routine profile save.
func (s *StoreService) SaveProfile(ctx context.Context, userID string, p models.Profile) models.Result[models.None] {
	partial := map[string]any{
		"email":       p.Email,
		"displayName": p.DisplayName,
		"createdAt":   p.CreatedAt,
	}
	if p.DisplayName == "" {
		partial["displayName"] = models.DefaultDisplayName
	}
	if p.CreatedAt == "" {
		partial["createdAt"] = timestamp()
	}
	if p.Role != "" {
		partial["role"] = p.Role
	}
	if err := s.store.Merge(ctx, treestore.UserPath(userID), partial); err != nil {
		log.Printf("store: failed to save profile %s: %v", userID, err)
		return models.Fail[models.None](err.Error())
	}
	return models.Done()
}

// GetProfile never fails: an absent record, a read error or a corrupt
// record all resolve to the default shell with success=true.
func (s *StoreService) GetProfile(ctx context.Context, userID string) models.Result[models.Profile] {
	snap, err := s.store.Read(ctx, treestore.UserPath(userID))
	if err != nil {
		log.Printf("store: failed to read profile %s: %v", userID, err)
		return models.OK(defaultProfile())
	}
	if !snap.Exists {
		return models.OK(defaultProfile())
	}
	var p models.Profile
	if err := snap.Decode(&p); err != nil {
		log.Printf("store: corrupt profile %s: %v", userID, err)
		return models.OK(defaultProfile())
	}
	return models.OK(p)
}

// SaveCart replaces the cart wholesale. There is no merge for carts; the
// latest save wins.
func (s *StoreService) SaveCart(ctx context.Context, userID string, items []models.LineItem) models.Result[models.None] {
	if items == nil {
		items = []models.LineItem{}
	}
	cart := models.Cart{Items: items, UpdatedAt: timestamp()}
	if err := s.store.Write(ctx, treestore.CartPath(userID), cart); err != nil {
		log.Printf("store: failed to save cart %s: %v", userID, err)
		return models.Fail[models.None](err.Error())
	}
	return models.Done()
}

func (s *StoreService) GetCart(ctx context.Context, userID string) models.Result[models.Cart] {
	snap, err := s.store.Read(ctx, treestore.CartPath(userID))
	if err != nil {
		log.Printf("store: failed to read cart %s: %v", userID, err)
		return models.Fail[models.Cart](err.Error())
	}
	if !snap.Exists {
		return models.OK(emptyCart())
	}
	var cart models.Cart
	if err := snap.Decode(&cart); err != nil {
		log.Printf("store: corrupt cart %s: %v", userID, err)
		return models.Fail[models.Cart](err.Error())
	}
	if cart.Items == nil {
		cart.Items = []models.LineItem{}
	}
	return models.OK(cart)
}

func (s *StoreService) DeleteCart(ctx context.Context, userID string) models.Result[models.None] {
	if err := s.store.Delete(ctx, treestore.CartPath(userID)); err != nil {
		log.Printf("store: failed to delete cart %s: %v", userID, err)
		return models.Fail[models.None](err.Error())
	}
	return models.Done()
}

// SaveOrder stores a new order under orders/{id}/{orderId} with a fresh
// collision-resistant order id and status "pending". The order id is
// echoed in the envelope for the confirmation page.
func (s *StoreService) SaveOrder(ctx context.Context, userID string, items []models.LineItem, total float64) models.Result[models.Order] {
	if items == nil {
		items = []models.LineItem{}
	}
	order := models.Order{
		OrderID:   uuid.NewString(),
		Items:     items,
		Total:     total,
		Status:    "pending",
		CreatedAt: timestamp(),
	}
	if err := s.store.Write(ctx, treestore.OrderPath(userID, order.OrderID), order); err != nil {
		log.Printf("store: failed to save order for %s: %v", userID, err)
		return models.Fail[models.Order](err.Error())
	}

	res := models.OK(order)
	res.OrderID = order.OrderID
	if s.events != nil {
		event := order
		event.UserID = userID
		if err := s.events.OrderCreated(event); err != nil {
			log.Printf("store: failed to publish order.created for %s: %v", order.OrderID, err)
			res.Warnings = append(res.Warnings, "не удалось опубликовать событие о новом заказе")
		}
	}
	return res
}

// GetUserOrders returns the user's orders keyed by order id; no orders is
// an empty map, not an error.
func (s *StoreService) GetUserOrders(ctx context.Context, userID string) models.Result[map[string]models.Order] {
	snap, err := s.store.Read(ctx, treestore.UserOrdersPath(userID))
	if err != nil {
		log.Printf("store: failed to read orders for %s: %v", userID, err)
		return models.Fail[map[string]models.Order](err.Error())
	}
	orders := map[string]models.Order{}
	if err := snap.Decode(&orders); err != nil {
		log.Printf("store: corrupt orders for %s: %v", userID, err)
		return models.Fail[map[string]models.Order](err.Error())
	}
	return models.OK(orders)
}

// WatchProfile streams the profile at users/{id}. Absence delivers the
// default shell. The stop function must be called to release the stream.
func (s *StoreService) WatchProfile(ctx context.Context, userID string) (<-chan models.Profile, func(), error) {
	sub, err := s.store.Subscribe(ctx, treestore.UserPath(userID))
	if err != nil {
		return nil, nil, err
	}
	out := make(chan models.Profile, watchBuffer)
	go func() {
		defer close(out)
		for snap := range sub.C {
			p := defaultProfile()
			if snap.Exists {
				var stored models.Profile
				if err := snap.Decode(&stored); err == nil {
					p = stored
				}
			}
			push(out, p)
		}
	}()
	return out, sub.Close, nil
}

// WatchCart streams the cart at carts/{id}; absence delivers the empty cart.
func (s *StoreService) WatchCart(ctx context.Context, userID string) (<-chan models.Cart, func(), error) {
	sub, err := s.store.Subscribe(ctx, treestore.CartPath(userID))
	if err != nil {
		return nil, nil, err
	}
	out := make(chan models.Cart, watchBuffer)
	go func() {
		defer close(out)
		for snap := range sub.C {
			cart := emptyCart()
			if snap.Exists {
				var stored models.Cart
				if err := snap.Decode(&stored); err == nil {
					cart = stored
				}
				if cart.Items == nil {
					cart.Items = []models.LineItem{}
				}
			}
			push(out, cart)
		}
	}()
	return out, sub.Close, nil
}

func defaultProfile() models.Profile {
	return models.Profile{
		DisplayName: models.DefaultDisplayName,
		Email:       "",
		CreatedAt:   timestamp(),
	}
}

func emptyCart() models.Cart {
	return models.Cart{Items: []models.LineItem{}}
}

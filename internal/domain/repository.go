package domain

import "context"

// Catalog: read-only доступ к товарам.
type Catalog interface {
	// FindByID возвращает товар или ErrItemNotFound.
	FindByID(ctx context.Context, id int64) (Item, error)
	// FindByIDs возвращает найденные товары; отсутствующие id молча пропускаются.
	FindByIDs(ctx context.Context, ids []int64) ([]Item, error)
	FindAll(ctx context.Context) ([]Item, error)
}

// CartRepository описывает требования к хранилищу строк корзины.
// Все записи проверяют версию: при расхождении возвращается ErrCartVersionConflict.
type CartRepository interface {
	// Find возвращает строку корзины или ErrCartItemNotFound.
	Find(ctx context.Context, itemID int64) (CartLine, error)
	FindAll(ctx context.Context) ([]CartLine, error)
	// Save вставляет строку (Version == 0) или обновляет её, если версия совпала.
	// Вставка уже существующей строки тоже считается конфликтом версий.
	Save(ctx context.Context, line CartLine) (CartLine, error)
	// Delete удаляет строку с ожидаемой версией.
	Delete(ctx context.Context, itemID int64, version int64) error
	Count(ctx context.Context) (int, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет заказ вместе с позициями. Возвращает ошибку, если запись с таким ID уже существует.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// List возвращает последние заказы с опциональным ограничением на количество.
	List(ctx context.Context, limit int) ([]Order, error)
	Count(ctx context.Context) (int, error)
}

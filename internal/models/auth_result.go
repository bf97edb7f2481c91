package models

// TokenTypeBearer — схема авторизации, возвращаемая клиенту.
const TokenTypeBearer = "Bearer"

// AuthResult — результат входа/обновления токена.
//
// Описание:
//   - AccessToken — короткоживущий JWT для доступа к API;
//   - RefreshToken — случайный секрет, который клиент предъявляет
//     для продления сессии; на сервере хранится только его хэш;
//   - ExpiresIn — время жизни access-токена в секундах.
type AuthResult struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
	User         *Principal
}

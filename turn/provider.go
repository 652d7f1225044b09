package turn

// TurnProvider は、現在のターン数を提供します。
// これにより、他のコンポーネントは Agent のような具体的な実装を知ることなく、
// ターン情報にアクセスできます。
type TurnProvider interface {
	GetCurrentTurn() int
}
